// Package pricedata reads daily closing prices from CSV files.
package pricedata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"dqn-trader/internal/market"
)

var ErrMalformed = errors.New("malformed price file")

// closeColumns are the header names accepted for the price column, in order
// of preference.
var closeColumns = []string{"close", "adj close", "price"}

// Load reads one price series. The file is either headed, in which case the
// Close (or Adj Close) column is used, or a headerless single column of
// numbers. The symbol is the file name without its extension.
func Load(path string) (*market.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open prices: %w", err)
	}
	defer f.Close()

	prices, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return market.NewSeries(Symbol(path), prices), nil
}

// Parse reads prices from CSV data in either accepted layout.
func Parse(r io.Reader) ([]float64, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrMalformed)
	}

	column, first := 0, 0
	if _, err := strconv.ParseFloat(strings.TrimSpace(records[0][0]), 64); err != nil {
		column, err = priceColumn(records[0])
		if err != nil {
			return nil, err
		}
		first = 1
	} else if len(records[0]) != 1 {
		return nil, fmt.Errorf("%w: headerless file must have a single column, line 1 has %d", ErrMalformed, len(records[0]))
	}

	prices := make([]float64, 0, len(records)-first)
	for i := first; i < len(records); i++ {
		line := i + 1
		row := records[i]
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}
		if column >= len(row) {
			return nil, fmt.Errorf("%w: line %d has %d fields, price is field %d", ErrMalformed, line, len(row), column+1)
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(row[column]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %q is not a number", ErrMalformed, line, row[column])
		}
		if math.IsNaN(price) || math.IsInf(price, 0) {
			return nil, fmt.Errorf("%w: line %d: %q is not a finite price", ErrMalformed, line, row[column])
		}
		prices = append(prices, price)
	}
	return prices, nil
}

func priceColumn(header []string) (int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range closeColumns {
		if i, ok := index[name]; ok {
			return i, nil
		}
	}
	if len(header) == 1 {
		return 0, nil
	}
	return 0, fmt.Errorf("%w: header %v has no Close column", ErrMalformed, header)
}

// Symbol derives the instrument name from a price file path.
func Symbol(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Glob expands a pattern that may contain ** into a sorted list of files.
func Glob(pattern string) ([]string, error) {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	files := matches[:0]
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && !info.IsDir() {
			files = append(files, m)
		}
	}
	matches = files
	if len(matches) == 0 {
		return nil, fmt.Errorf("no price files match %q", pattern)
	}
	sort.Strings(matches)
	return matches, nil
}

// LoadAll loads every file matching pattern.
func LoadAll(pattern string) ([]*market.Series, error) {
	paths, err := Glob(pattern)
	if err != nil {
		return nil, err
	}
	series := make([]*market.Series, 0, len(paths))
	for _, p := range paths {
		s, err := Load(p)
		if err != nil {
			return nil, err
		}
		series = append(series, s)
	}
	return series, nil
}

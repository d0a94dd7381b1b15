// Package source reads one municipality's inputs: the owner spreadsheet, the
// supplementary assessor export, the parcel geometry layer and the manifest
// that lists them.
package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"unicode"
)

var (
	// ErrInputMissing means a source file the manifest names does not exist
	ErrInputMissing = errors.New("input missing")
	// ErrUnreadableInput means a source exists but cannot be parsed
	ErrUnreadableInput = errors.New("input unreadable")
)

// header maps canonical column names to their index in a CSV header row
type header map[string]int

// headerKey folds a column title to upper-case alphanumerics so that
// "Property Address", "PROPERTY_ADDRESS" and "property-address" agree
func headerKey(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimPrefix(s, "\ufeff") {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

func newHeader(cols []string) header {
	h := make(header, len(cols))
	for i, c := range cols {
		k := headerKey(c)
		if _, dup := h[k]; !dup && k != "" {
			h[k] = i
		}
	}
	return h
}

// find returns the index of the first alias present
func (h header) find(aliases ...string) int {
	for _, a := range aliases {
		if i, ok := h[headerKey(a)]; ok {
			return i
		}
	}
	return -1
}

// row wraps one CSV record with alias-aware accessors
type row struct {
	cells []string
	cols  map[string]int
}

func (r row) get(field string) string {
	i, ok := r.cols[field]
	if !ok || i < 0 || i >= len(r.cells) {
		return ""
	}
	return strings.TrimSpace(r.cells[i])
}

func (r row) blank(fields ...string) bool {
	for _, f := range fields {
		if r.get(f) != "" {
			return false
		}
	}
	return true
}

// readCSV opens path, resolves the aliases for each field and calls fn for
// every record after the header. fn receives the 1-based data row number.
func readCSV(path string, aliases map[string][]string, required []string, fn func(n int, r row) error) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrInputMissing, path)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	first, err := reader.Read()
	if err != nil {
		return fmt.Errorf("%w: %s: read header: %v", ErrUnreadableInput, path, err)
	}
	h := newHeader(first)

	cols := make(map[string]int, len(aliases))
	for field, names := range aliases {
		cols[field] = h.find(names...)
	}
	var missing []string
	for _, field := range required {
		if cols[field] < 0 {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s: no column for %s", ErrUnreadableInput, path, strings.Join(missing, ", "))
	}

	for n := 1; ; n++ {
		cells, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %s row %d: %v", ErrUnreadableInput, path, n, err)
		}
		if err := fn(n, row{cells: cells, cols: cols}); err != nil {
			return err
		}
	}
}

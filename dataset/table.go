package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Table is a dataset loaded into memory and addressed by column.
type Table struct {
	columns []string
	index   map[string]int
	rows    [][]string
}

// NewTable returns an empty table with the provided columns.
func NewTable(columns []string) *Table {
	t := &Table{
		columns: append([]string(nil), columns...),
		index:   make(map[string]int, len(columns)),
	}
	for k, v := range t.columns {
		t.index[v] = k
	}
	return t
}

// Columns returns the column names in file order.
func (t *Table) Columns() []string {
	return t.columns
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// HasColumn reports whether the table contains column name.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Column returns the raw values of column name.
func (t *Table) Column(name string) ([]string, error) {
	k, ok := t.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrMissingColumn, name)
	}
	values := make([]string, len(t.rows))
	for i, row := range t.rows {
		values[i] = row[k]
	}
	return values, nil
}

// Float64s returns column name parsed as floating point numbers.
func (t *Table) Float64s(name string) ([]float64, error) {
	k, ok := t.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrMissingColumn, name)
	}
	values := make([]float64, len(t.rows))
	for i, row := range t.rows {
		v, err := strconv.ParseFloat(row[k], 64)
		if err != nil {
			return nil, fmt.Errorf("row %v column %v: %w", i+1,
				name, err)
		}
		values[i] = v
	}
	return values, nil
}

// AddRow appends a row.  The row must have one value per column.
func (t *Table) AddRow(row []string) error {
	if len(row) != len(t.columns) {
		return fmt.Errorf("row has %v fields, want %v", len(row),
			len(t.columns))
	}
	t.rows = append(t.rows, row)
	return nil
}

// Filter returns a new table containing the rows for which keep returns
// true.  keep is handed the row and a lookup function for its columns.
func (t *Table) Filter(keep func(get func(column string) string) bool) *Table {
	nt := NewTable(t.columns)
	for _, row := range t.rows {
		get := func(column string) string {
			k, ok := t.index[column]
			if !ok {
				return ""
			}
			return row[k]
		}
		if keep(get) {
			nt.rows = append(nt.rows, row)
		}
	}
	return nt
}

// Read loads a dataset from r.  Rows whose field count does not match the
// header, such as a final row that is still being written, are skipped.  The
// utilization column is required.
func Read(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %v (empty dataset)",
				ErrMissingColumn, ColumnUtilization)
		}
		return nil, err
	}

	t := NewTable(header)
	if !t.HasColumn(ColumnUtilization) {
		return nil, fmt.Errorf("%w: %v", ErrMissingColumn,
			ColumnUtilization)
	}

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				log.Debugf("skipping line %v: %v", pe.Line, err)
				continue
			}
			return nil, err
		}
		if len(record) != len(header) {
			log.Debugf("skipping row %v: %v fields", t.Len()+1,
				len(record))
			continue
		}
		t.rows = append(t.rows, record)
	}

	return t, nil
}

// Load reads the dataset stored in filename.
func Load(filename string) (*Table, error) {
	log.Tracef("Load %v", filename)
	defer log.Tracef("Load %v exit", filename)

	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", filename, err)
	}
	log.Debugf("Loaded %v rows from %v", t.Len(), filename)
	return t, nil
}

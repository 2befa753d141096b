package tsmodel

import (
	"fmt"
	"math"
	"time"
)

// Frame is a date-indexed table of regressor values. Missing cells hold NaN.
type Frame struct {
	Dates   []time.Time
	Columns []string
	Values  [][]float64 // Values[row][col]
}

// NewFrame returns a frame with every cell missing.
func NewFrame(dates []time.Time, columns []string) *Frame {
	values := make([][]float64, len(dates))
	for i := range values {
		row := make([]float64, len(columns))
		for j := range row {
			row[j] = math.NaN()
		}
		values[i] = row
	}
	return &Frame{
		Dates:   append([]time.Time(nil), dates...),
		Columns: append([]string(nil), columns...),
		Values:  values,
	}
}

func (f *Frame) Len() int {
	return len(f.Dates)
}

// ColumnIndex returns the position of name, or -1.
func (f *Frame) ColumnIndex(name string) int {
	for i, c := range f.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// FirstMissing reports the first missing cell in column order.
func (f *Frame) FirstMissing() (column string, date time.Time, ok bool) {
	for j, c := range f.Columns {
		for i := range f.Dates {
			if math.IsNaN(f.Values[i][j]) {
				return c, f.Dates[i], true
			}
		}
	}
	return "", time.Time{}, false
}

// FillForwardBackward fills each column's gaps with the previous known
// value, then fills any leading gap with the next known value. Columns with
// no known value stay missing.
func (f *Frame) FillForwardBackward() {
	for j := range f.Columns {
		last := math.NaN()
		for i := range f.Values {
			if math.IsNaN(f.Values[i][j]) {
				f.Values[i][j] = last
			} else {
				last = f.Values[i][j]
			}
		}
		next := math.NaN()
		for i := len(f.Values) - 1; i >= 0; i-- {
			if math.IsNaN(f.Values[i][j]) {
				f.Values[i][j] = next
			} else {
				next = f.Values[i][j]
			}
		}
	}
}

func (f *Frame) String() string {
	return fmt.Sprintf("frame(%d rows, columns %v)", len(f.Dates), f.Columns)
}

// Day returns the calendar date of t in loc as midnight UTC, the form all
// model dates take.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

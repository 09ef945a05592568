// Package layoutcheck compares the header row of an exported category
// spreadsheet with the column layout the forms write.
package layoutcheck

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/nrc-it/staffforms/internal/forms"
	"github.com/xuri/excelize/v2"
)

const maxXLSRows = 100000

var ErrEmptySheet = errors.New("worksheet is empty")

type Mismatch struct {
	Column   int    `json:"column" yaml:"column"`
	Expected string `json:"expected" yaml:"expected"`
	Found    string `json:"found" yaml:"found"`
}

type Report struct {
	Category string     `json:"category" yaml:"category"`
	Expected []string   `json:"expected" yaml:"expected"`
	Found    []string   `json:"found" yaml:"found"`
	Appended []string   `json:"appended,omitempty" yaml:"appended,omitempty"`
	Problems []Mismatch `json:"problems,omitempty" yaml:"problems,omitempty"`
	DataRows int        `json:"dataRows" yaml:"dataRows"`
}

// OK is true when the sheet's header starts with the full category layout.
// Extra trailing columns are allowed.
func (r Report) OK() bool {
	return len(r.Problems) == 0
}

func Verify(reader io.Reader, filename string, c forms.Category) (Report, error) {
	rows, err := readRows(reader, filename)
	if err != nil {
		return Report{}, err
	}
	return VerifyRows(rows, c)
}

// VerifyRows checks rows that were already read, header first.
func VerifyRows(rows [][]string, c forms.Category) (Report, error) {
	if len(rows) == 0 {
		return Report{}, ErrEmptySheet
	}
	header := make([]string, len(rows[0]))
	for i, cell := range rows[0] {
		header[i] = strings.TrimSpace(cell)
	}
	return Compare(c, header, len(rows)-1), nil
}

func Compare(c forms.Category, header []string, dataRows int) Report {
	expected := c.Columns()
	report := Report{
		Category: c.Slug,
		Expected: expected,
		Found:    header,
		DataRows: dataRows,
	}
	for i, want := range expected {
		got := ""
		if i < len(header) {
			got = header[i]
		}
		if normalize(got) != normalize(want) {
			report.Problems = append(report.Problems, Mismatch{Column: i + 1, Expected: want, Found: got})
		}
	}
	if len(header) > len(expected) {
		report.Appended = append([]string(nil), header[len(expected):]...)
	}
	return report
}

func normalize(label string) string {
	return strings.Join(strings.Fields(label), " ")
}

func readRows(reader io.Reader, filename string) ([][]string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xls":
		workbook, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
		if err != nil {
			return nil, fmt.Errorf("open xls: %w", err)
		}
		sheet := workbook.GetSheet(0)
		if sheet == nil {
			return nil, fmt.Errorf("no worksheet found")
		}
		rows := collectRows(int(sheet.MaxRow), func(i int) cellRow {
			if r := sheet.Row(i); r != nil {
				return r
			}
			return nil
		}, maxXLSRows)
		if len(rows) == 0 {
			return nil, ErrEmptySheet
		}
		return rows, nil
	case ".xlsx", ".xlsm", "":
		file, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open xlsx: %w", err)
		}
		defer func() { _ = file.Close() }()

		sheetName := file.GetSheetName(0)
		if sheetName == "" {
			return nil, fmt.Errorf("no worksheet found")
		}
		rows, err := file.GetRows(sheetName)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, ErrEmptySheet
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("unsupported spreadsheet type %q", filepath.Ext(filename))
	}
}

type cellRow interface {
	Col(i int) string
	LastCol() int
}

// collectRows reads rows 0..last of one worksheet, at most limit of them.
// Missing rows come back empty and trailing blank cells are dropped.
func collectRows(last int, row func(int) cellRow, limit int) [][]string {
	n := last + 1
	if n > limit {
		n = limit
	}
	if n <= 0 {
		return nil
	}
	rows := make([][]string, n)
	for i := range rows {
		r := row(i)
		if r == nil {
			continue
		}
		var cells []string
		for j := 0; j <= r.LastCol(); j++ {
			cells = append(cells, r.Col(j))
		}
		for len(cells) > 0 && strings.TrimSpace(cells[len(cells)-1]) == "" {
			cells = cells[:len(cells)-1]
		}
		rows[i] = cells
	}
	return rows
}

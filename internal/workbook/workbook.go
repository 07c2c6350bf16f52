package workbook

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"Mail2Ledger/internal/slicer"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")
	ErrEncrypted         = errors.New("workbook is encrypted and the password did not open it")
	ErrSheetNotFound     = errors.New("sheet not found")
	ErrEmptyWorkbook     = errors.New("workbook has no sheets")
)

// Encrypted .xlsx files are wrapped in an OLE compound document.
var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// Sheet is one worksheet and its rectangular grid.
type Sheet struct {
	Index int
	Name  string
	Grid  slicer.Grid
}

type Workbook struct {
	Name   string
	Sheets []Sheet
}

// Ext returns the lowercased extension of a file name.
func Ext(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// IsSpreadsheet reports whether an attachment should be ingested.
func IsSpreadsheet(name string, allowXLS bool) bool {
	if IsJunkFile(name) {
		return false
	}
	switch Ext(name) {
	case ".xlsx":
		return true
	case ".xls":
		return allowXLS
	}
	return false
}

// IsJunkFile returns true for macOS metadata files and other files to skip
func IsJunkFile(filename string) bool {
	base := filepath.Base(filename)
	dir := filepath.Dir(filename)
	if strings.HasPrefix(base, ".") {
		return true
	}
	if strings.Contains(dir, "__MACOSX") {
		return true
	}
	return false
}

// Read parses an .xlsx or .xls payload. The password is used for encrypted .xlsx files.
func Read(name string, data []byte, password string) (*Workbook, error) {
	var (
		sheets []Sheet
		err    error
	)
	switch Ext(name) {
	case ".xlsx", ".xlsm":
		sheets, err = readXLSX(data, password)
	case ".xls":
		sheets, err = readXLS(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if len(sheets) == 0 {
		return nil, fmt.Errorf("read %s: %w", name, ErrEmptyWorkbook)
	}
	return &Workbook{Name: name, Sheets: sheets}, nil
}

func readXLSX(data []byte, password string) ([]Sheet, error) {
	xl, err := excelize.OpenReader(bytes.NewReader(data), excelize.Options{Password: password})
	if err != nil {
		if errors.Is(err, excelize.ErrWorkbookPassword) || bytes.HasPrefix(data, oleMagic) {
			return nil, ErrEncrypted
		}
		return nil, err
	}
	defer xl.Close()

	var sheets []Sheet
	for i, name := range xl.GetSheetList() {
		rows, err := xl.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", name, err)
		}
		sheets = append(sheets, Sheet{Index: i, Name: name, Grid: rectangular(rows)})
	}
	return sheets, nil
}

func readXLS(data []byte) ([]Sheet, error) {
	book, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, err
	}
	var sheets []Sheet
	for i := 0; i < book.NumSheets(); i++ {
		ws := book.GetSheet(i)
		if ws == nil {
			continue
		}
		var rows [][]string
		for r := 0; r <= int(ws.MaxRow); r++ {
			row := ws.Row(r)
			if row == nil {
				rows = append(rows, nil)
				continue
			}
			cells := make([]string, 0, row.LastCol()+1)
			for c := 0; c <= row.LastCol(); c++ {
				cells = append(cells, row.Col(c))
			}
			rows = append(rows, cells)
		}
		sheets = append(sheets, Sheet{Index: i, Name: ws.Name, Grid: rectangular(rows)})
	}
	return sheets, nil
}

// rectangular pads every row to the widest one so missing cells read as "".
func rectangular(rows [][]string) slicer.Grid {
	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	grid := make(slicer.Grid, len(rows))
	for i, r := range rows {
		row := make([]string, width)
		copy(row, r)
		grid[i] = row
	}
	return grid
}

// Select returns the sheets named in names, in the given order. A name that matches no
// sheet but parses as an integer is taken as a 0-based sheet index. Empty names selects all.
func (wb *Workbook) Select(names []string) ([]Sheet, error) {
	if len(names) == 0 {
		return wb.Sheets, nil
	}
	out := make([]Sheet, 0, len(names))
	for _, n := range names {
		sh, ok := wb.find(strings.TrimSpace(n))
		if !ok {
			return nil, fmt.Errorf("%w: %q in %s", ErrSheetNotFound, n, wb.Name)
		}
		out = append(out, sh)
	}
	return out, nil
}

func (wb *Workbook) find(name string) (Sheet, bool) {
	for _, sh := range wb.Sheets {
		if sh.Name == name {
			return sh, true
		}
	}
	for _, sh := range wb.Sheets {
		if strings.EqualFold(strings.TrimSpace(sh.Name), name) {
			return sh, true
		}
	}
	if idx, err := strconv.Atoi(name); err == nil && idx >= 0 && idx < len(wb.Sheets) {
		return wb.Sheets[idx], true
	}
	return Sheet{}, false
}

// Window returns at most maxRows x maxCols of the grid's top-left corner.
func Window(grid slicer.Grid, maxRows, maxCols int) [][]string {
	rows := len(grid)
	if maxRows > 0 && rows > maxRows {
		rows = maxRows
	}
	out := make([][]string, rows)
	for r := 0; r < rows; r++ {
		cols := len(grid[r])
		if maxCols > 0 && cols > maxCols {
			cols = maxCols
		}
		out[r] = grid[r][:cols]
	}
	return out
}

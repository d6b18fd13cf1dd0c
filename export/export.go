// Package export renders time entries as CSV or as an .xlsx workbook. Both
// formats share one column order and write exactly one row per entry after
// the header.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"worklog/models"
	"worklog/worktime"

	"github.com/xuri/excelize/v2"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// SheetName is the worksheet holding the entries in an .xlsx export.
const SheetName = "Entries"

var Columns = []string{"date", "employee", "login", "project", "duration", "minutes", "extra", "overtime", "note"}

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, "":
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

func (f Format) FileName(base string) string {
	return base + "." + string(f)
}

func Write(w io.Writer, f Format, entries []models.Entry) error {
	if f == FormatXLSX {
		return WriteSpreadsheet(w, entries)
	}
	return WriteCSV(w, entries)
}

func WriteCSV(w io.Writer, entries []models.Entry) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Columns); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writer.Write(record(e)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func record(e models.Entry) []string {
	return []string{
		worktime.FormatDate(e.Date),
		textCell(e.UserName),
		textCell(e.UserLogin),
		textCell(e.ProjectName),
		worktime.FormatHHMM(e.Minutes),
		strconv.Itoa(e.Minutes),
		strconv.FormatBool(e.Extra),
		strconv.FormatBool(e.Overtime),
		textCell(e.Note),
	}
}

// textCell keeps free text from being read as a formula when the CSV is
// opened in a spreadsheet.
func textCell(s string) string {
	if s != "" && strings.ContainsRune("=+-@\t\r", rune(s[0])) {
		return "'" + s
	}
	return s
}

func WriteSpreadsheet(w io.Writer, entries []models.Entry) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return err
	}

	header := make([]any, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(Columns), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetName, "A1", last, bold); err != nil {
		return err
	}

	for i, e := range entries {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			worktime.FormatDate(e.Date),
			e.UserName,
			e.UserLogin,
			e.ProjectName,
			worktime.FormatHHMM(e.Minutes),
			e.Minutes,
			e.Extra,
			e.Overtime,
			e.Note,
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return err
		}
	}

	_ = f.SetColWidth(SheetName, "A", "A", 12)
	_ = f.SetColWidth(SheetName, "I", "I", 40)

	return f.Write(w)
}

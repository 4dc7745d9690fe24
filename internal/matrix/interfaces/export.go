package interfaces

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	matrix "loudness-monitor/internal/matrix/domain"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"

	matrixSheet = "matrix"
)

var ErrUnknownFormat = errors.New("matrix export: unknown format")

// ParseFormat reads csv, xlsx or pdf; empty selects csv.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, value)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	default:
		return "text/csv; charset=utf-8"
	}
}

// Filename names the export of day.
func (f Format) Filename(day matrix.Day) string {
	return fmt.Sprintf("loudness-matrix-%s.%s", day, f)
}

// Export renders the matrix; slot columns are ascending.
func Export(format Format, day matrix.Day, policy matrix.Policy, rows []matrix.Row) ([]byte, error) {
	slots := matrix.SlotLabels(rows, policy)
	switch format {
	case FormatCSV:
		return BuildMatrixCSV(rows, slots)
	case FormatXLSX:
		return BuildMatrixXLSX(rows, slots)
	case FormatPDF:
		return BuildMatrixPDF(day, policy, rows, slots)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// BuildMatrixCSV writes one line per channel with the mean dB per slot.
func BuildMatrixCSV(rows []matrix.Row, slots []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(append([]string{"channel", "ip"}, slots...)); err != nil {
		return nil, err
	}
	for _, row := range rows {
		record := []string{row.ChannelName, row.IP}
		for _, slot := range slots {
			cell, ok := row.Cells[slot]
			if !ok {
				record = append(record, "")
				continue
			}
			record = append(record, matrix.FormatTenth(cell.AvgDB))
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildMatrixXLSX renders a single "matrix" sheet with numeric cells.
func BuildMatrixXLSX(rows []matrix.Row, slots []string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", matrixSheet); err != nil {
		return nil, err
	}

	header := append([]string{"Channel", "IP"}, slots...)
	for i, title := range header {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(matrixSheet, cell, title)
	}
	for r, row := range rows {
		line := r + 2
		_ = f.SetCellValue(matrixSheet, fmt.Sprintf("A%d", line), row.ChannelName)
		_ = f.SetCellValue(matrixSheet, fmt.Sprintf("B%d", line), row.IP)
		for c, slot := range slots {
			value, ok := row.Cells[slot]
			if !ok {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+3, line)
			if err != nil {
				return nil, err
			}
			_ = f.SetCellValue(matrixSheet, cell, matrix.RoundTenth(value.AvgDB))
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildMatrixPDF renders a landscape table of display readings.
func BuildMatrixPDF(day matrix.Day, policy matrix.Policy, rows []matrix.Row, slots []string) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Loudness Matrix")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Date: %s", day))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Policy: %s", policy))
	pdf.Ln(8)

	const (
		nameWidth = 45.0
		ipWidth   = 40.0
	)
	slotWidth := 20.0
	if len(slots) > 0 {
		// A4 landscape leaves ~277mm between margins.
		if w := (277 - nameWidth - ipWidth) / float64(len(slots)); w < slotWidth {
			slotWidth = w
		}
	}

	pdf.SetFont("Arial", "B", 8)
	pdf.CellFormat(nameWidth, 6, "Channel", "1", 0, "C", false, 0, "")
	pdf.CellFormat(ipWidth, 6, "IP", "1", 0, "C", false, 0, "")
	for _, slot := range slots {
		pdf.CellFormat(slotWidth, 6, slot, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 8)
	for _, row := range rows {
		pdf.CellFormat(nameWidth, 6, row.ChannelName, "1", 0, "L", false, 0, "")
		pdf.CellFormat(ipWidth, 6, row.IP, "1", 0, "L", false, 0, "")
		for _, slot := range slots {
			text := ""
			if cell, ok := row.Cells[slot]; ok {
				text = matrix.FormatTenth(cell.AvgDB)
			}
			pdf.CellFormat(slotWidth, 6, text, "1", 0, "R", false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

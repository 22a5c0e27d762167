package services

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-pdf/fpdf"
	"github.com/xuri/excelize/v2"

	"github.com/bobarin/memorial/internal/models"
)

const (
	ReportTitle        = "Person Registry"
	ReportBaseFilename = "registros_personas"

	QRMissingLabel      = "QR Missing"
	QRNotGeneratedLabel = "Not generated"
)

// ReportHeaders are the column titles shared by every export format.
var ReportHeaders = []string{"ID", "Name", "Birth", "Death", "Status", "QR Code"}

// ReportRow is one person rendered for export. QRImage is set when the QR
// file exists on disk, otherwise QRLabel explains why it is absent.
type ReportRow struct {
	ID        int64
	Name      string
	BirthDate string
	DeathDate string
	Status    string
	QRImage   string
	QRLabel   string
}

func (r ReportRow) cells() []string {
	return []string{strconv.FormatInt(r.ID, 10), r.Name, r.BirthDate, r.DeathDate, r.Status}
}

// ReportService renders the person roster as PDF or XLSX.
type ReportService struct {
	publicRoot string
}

func NewReportService(publicRoot string) *ReportService {
	return &ReportService{publicRoot: publicRoot}
}

// BuildRows converts persons into export rows, resolving QR files against
// the public root.
func (s *ReportService) BuildRows(persons []models.Person) []ReportRow {
	rows := make([]ReportRow, 0, len(persons))
	for _, p := range persons {
		row := ReportRow{
			ID:        p.ID,
			Name:      p.Name,
			BirthDate: p.BirthDate.Format(models.ReportDateLayout),
			DeathDate: p.DeathDate.Format(models.ReportDateLayout),
			Status:    string(p.Status()),
		}

		switch {
		case p.QRPath == nil || *p.QRPath == "":
			row.QRLabel = QRNotGeneratedLabel
		default:
			full := filepath.Join(s.publicRoot, filepath.FromSlash(*p.QRPath))
			if _, err := os.Stat(full); err != nil {
				row.QRLabel = QRMissingLabel
			} else {
				row.QRImage = full
			}
		}

		rows = append(rows, row)
	}
	return rows
}

// PDF layout in millimetres on a Letter page.
const (
	pdfMargin     = 15.0
	pdfHeaderH    = 10.0
	pdfRowH       = 20.0
	pdfQRSize     = 17.0
	pdfTitleSize  = 18.0
	pdfBodySize   = 10.0
	pdfCellMargin = 2.0
)

var pdfColWidths = []float64{14, 56, 28, 28, 32, 28}

// WritePDF renders rows as a single titled table. The header row is
// repeated on every page.
func (s *ReportService) WritePDF(w io.Writer, rows []ReportRow) error {
	pdf := fpdf.New("P", "mm", "Letter", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(false, pdfMargin)
	pdf.SetCellMargin(pdfCellMargin)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	_, pageH := pdf.GetPageSize()

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", pdfTitleSize)
	pdf.CellFormat(0, 12, tr(ReportTitle), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	header := func() {
		pdf.SetFont("Helvetica", "B", pdfBodySize)
		pdf.SetFillColor(0x6c, 0x75, 0x7d)
		pdf.SetTextColor(0xf5, 0xf5, 0xf5)
		for i, h := range ReportHeaders {
			pdf.CellFormat(pdfColWidths[i], pdfHeaderH, tr(h), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", pdfBodySize)
		pdf.SetFillColor(0xf8, 0xf9, 0xfa)
		pdf.SetTextColor(0, 0, 0)
	}
	header()

	for _, row := range rows {
		if pdf.GetY()+pdfRowH > pageH-pdfMargin {
			pdf.AddPage()
			header()
		}

		for i, text := range row.cells() {
			pdf.CellFormat(pdfColWidths[i], pdfRowH, tr(text), "1", 0, "C", true, 0, "")
		}

		qrW := pdfColWidths[len(pdfColWidths)-1]
		x, y := pdf.GetX(), pdf.GetY()
		if row.QRImage != "" {
			pdf.CellFormat(qrW, pdfRowH, "", "1", 0, "C", true, 0, "")
			pdf.ImageOptions(row.QRImage,
				x+(qrW-pdfQRSize)/2, y+(pdfRowH-pdfQRSize)/2, pdfQRSize, pdfQRSize,
				false, fpdf.ImageOptions{ImageType: "PNG", ReadDpi: true}, 0, "")
		} else {
			pdf.CellFormat(qrW, pdfRowH, tr(row.QRLabel), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("pdf render: %w", err)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("pdf write: %w", err)
	}
	return nil
}

const xlsxSheet = "Persons"

// WriteXLSX renders rows into a single worksheet with QR thumbnails
// anchored in the last column.
func (s *ReportService) WriteXLSX(w io.Writer, rows []ReportRow) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return fmt.Errorf("xlsx sheet: %w", err)
	}

	for i, h := range ReportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(xlsxSheet, cell, h)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "F5F5F5"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"6C757D"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("xlsx style: %w", err)
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(ReportHeaders), 1)
	_ = f.SetCellStyle(xlsxSheet, "A1", lastHeader, headerStyle)

	bodyStyle, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("xlsx style: %w", err)
	}

	for i, r := range rows {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(xlsxSheet, cell, v)
		}

		write(1, r.ID)
		write(2, r.Name)
		write(3, r.BirthDate)
		write(4, r.DeathDate)
		write(5, r.Status)

		qrCell, _ := excelize.CoordinatesToCellName(6, row)
		if r.QRImage != "" {
			_ = f.SetRowHeight(xlsxSheet, row, 60)
			if err := f.AddPicture(xlsxSheet, qrCell, r.QRImage, &excelize.GraphicOptions{
				ScaleX:      0.3,
				ScaleY:      0.3,
				OffsetX:     4,
				OffsetY:     4,
				Positioning: "oneCell",
			}); err != nil {
				return fmt.Errorf("xlsx picture for person %d: %w", r.ID, err)
			}
		} else {
			write(6, r.QRLabel)
		}

		first, _ := excelize.CoordinatesToCellName(1, row)
		_ = f.SetCellStyle(xlsxSheet, first, qrCell, bodyStyle)
	}

	_ = f.SetColWidth(xlsxSheet, "A", "A", 8)
	_ = f.SetColWidth(xlsxSheet, "B", "B", 36)
	_ = f.SetColWidth(xlsxSheet, "C", "D", 14)
	_ = f.SetColWidth(xlsxSheet, "E", "E", 18)
	_ = f.SetColWidth(xlsxSheet, "F", "F", 14)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

// RenderPDF is a convenience wrapper returning the PDF bytes.
func (s *ReportService) RenderPDF(persons []models.Person) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.WritePDF(&buf, s.BuildRows(persons)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderXLSX is a convenience wrapper returning the workbook bytes.
func (s *ReportService) RenderXLSX(persons []models.Person) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.WriteXLSX(&buf, s.BuildRows(persons)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

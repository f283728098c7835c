package report

import (
	"bytes"
	"fmt"

	"tubedigest/internal/models"
	"tubedigest/shared/config"

	"github.com/go-pdf/fpdf"
)

const (
	coreFontFamily    = "Helvetica"
	unicodeFontFamily = "digest"

	pageMargin = 15.0
	lineHeight = 5.5

	placeholderText = "Summary unavailable for this video. Open the link above to watch it."
)

// PDFRenderer renders a composed report to PDF, entirely in memory. Creation
// and modification dates are pinned to the report's GeneratedAt, so two
// renders of the same Report are byte-identical.
type PDFRenderer struct {
	fontFile string
}

func NewPDFRenderer(cfg *config.ReportConfig) *PDFRenderer {
	return &PDFRenderer{fontFile: cfg.FontFile}
}

func (r *PDFRenderer) Render(report *models.Report) ([]byte, error) {
	if report == nil {
		return nil, fmt.Errorf("report cannot be nil")
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(report.GeneratedAt)
	pdf.SetModificationDate(report.GeneratedAt)
	pdf.SetTitle(fmt.Sprintf("Daily Video Digest %s", report.GeneratedAt.Format("2006-01-02")), true)
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)

	family := coreFontFamily
	if r.fontFile != "" {
		// The same face serves every style, since CJK fonts rarely ship
		// separate bold or italic files.
		pdf.AddUTF8Font(unicodeFontFamily, "", r.fontFile)
		pdf.AddUTF8Font(unicodeFontFamily, "B", r.fontFile)
		pdf.AddUTF8Font(unicodeFontFamily, "I", r.fontFile)
		family = unicodeFontFamily
	}

	pdf.AddPage()

	pdf.SetFont(family, "B", 18)
	pdf.CellFormat(0, 10, "Daily Video Digest", "", 1, "C", false, 0, "")
	pdf.SetFont(family, "", 11)
	pdf.SetTextColor(90, 90, 90)
	header := fmt.Sprintf("%s  |  %d video(s)", report.GeneratedAt.Format("January 2, 2006"), report.VideoCount)
	pdf.CellFormat(0, 7, header, "", 1, "C", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(4)

	for i, item := range report.Items {
		r.renderItem(pdf, family, i+1, item)
	}

	if pdf.Err() {
		return nil, fmt.Errorf("failed to render report: %w", pdf.Error())
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *PDFRenderer) renderItem(pdf *fpdf.Fpdf, family string, index int, item models.ReportItem) {
	video := item.Video

	pdf.SetFont(family, "B", 13)
	pdf.MultiCell(0, 6.5, fmt.Sprintf("%d. %s", index, video.Title), "", "L", false)

	if item.Summary != nil && item.Summary.TitleTranslation != "" && item.Summary.TitleTranslation != video.Title {
		pdf.SetFont(family, "I", 11)
		pdf.SetTextColor(70, 70, 70)
		pdf.MultiCell(0, lineHeight, item.Summary.TitleTranslation, "", "L", false)
		pdf.SetTextColor(0, 0, 0)
	}

	if video.Channel != nil {
		pdf.SetFont(family, "", 10)
		pdf.SetTextColor(110, 110, 110)
		pdf.CellFormat(0, lineHeight, video.Channel.Title, "", 1, "L", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	}

	pdf.SetFont(family, "", 10)
	pdf.SetTextColor(20, 60, 160)
	pdf.WriteLinkString(lineHeight, video.URL, video.URL)
	pdf.Ln(lineHeight)
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(1.5)

	if item.Summary != nil {
		pdf.SetFont(family, "", 11)
		pdf.MultiCell(0, lineHeight, item.Summary.Body, "", "J", false)
	} else {
		pdf.SetFont(family, "I", 11)
		pdf.SetTextColor(150, 150, 150)
		pdf.MultiCell(0, lineHeight, placeholderText, "", "L", false)
		pdf.SetTextColor(0, 0, 0)
	}

	pdf.Ln(5)
}

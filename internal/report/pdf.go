package report

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

const qrImage = "source-qr"

// Render writes the activity report for s as a PDF to w.
func Render(w io.Writer, s Summary, lang Language) error {
	tr := NewTranslator(lang)
	pdf := gofpdf.New("P", "mm", "A4", "")
	utf := pdf.UnicodeTranslatorFromDescriptor("")
	text := func(key string) string { return utf(tr.T(key)) }

	pdf.SetTitle(utf(tr.T("title")+": "+s.Name), false)
	pdf.SetAuthor("fitgate", false)
	pdf.SetCreator("fitgate", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, text("title"))
	pdf.Ln(12)

	if s.Hash != "" {
		png, err := HashToQR(s.Hash, 256)
		if err != nil {
			return err
		}
		opts := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
		pdf.RegisterImageOptionsReader(qrImage, opts, bytes.NewReader(png))
		pdf.ImageOptions(qrImage, 160, 15, 35, 35, false, opts, 0, "")
	}

	addSummarySection(pdf, s, tr, utf)
	addLapsSection(pdf, s.Laps, tr, utf)
	addIssuesSection(pdf, s.Issues, tr, utf)

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.Output(w)
}

func heading(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, title)
	pdf.Ln(9)
}

func addSummarySection(pdf *gofpdf.Fpdf, s Summary, tr Translator, utf func(string) string) {
	heading(pdf, utf(tr.T("summary")))
	pdf.SetFont("Helvetica", "", 11)
	start := tr.T("unknown")
	if !s.Start.IsZero() {
		start = s.Start.UTC().Format(time.RFC3339)
	}
	items := []struct {
		label string
		value string
	}{
		{tr.T("name"), emptyFallback(s.Name, "-")},
		{tr.T("sport"), emptyFallback(s.Sport, tr.T("unknown"))},
		{tr.T("start"), start},
		{tr.T("duration"), formatDuration(s.Duration)},
		{tr.T("distance"), formatDistance(s.Distance)},
		{tr.T("records"), fmt.Sprint(s.Records)},
		{tr.T("discarded"), fmt.Sprint(s.Discarded)},
	}
	for _, item := range items {
		pdf.CellFormat(50, 6, utf(item.label), "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, utf(item.value), "", 1, "L", false, 0, "")
	}
	if s.Hash != "" {
		pdf.SetFont("Helvetica", "", 8)
		pdf.CellFormat(50, 5, utf(tr.T("source")), "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 5, s.Hash, "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func addLapsSection(pdf *gofpdf.Fpdf, laps []LapRow, tr Translator, utf func(string) string) {
	heading(pdf, utf(tr.T("laps")))
	if len(laps) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, utf(tr.T("no_laps")), "", "L", false)
		pdf.Ln(4)
		return
	}
	headers := []string{"lap", "lap.start", "lap.time", "lap.distance", "lap.avg_hr", "lap.max_hr", "lap.avg_speed"}
	widths := []float64{14, 42, 26, 28, 22, 22, 26}

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, utf(tr.T(h)), "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, lap := range laps {
		start := "-"
		if !lap.Start.IsZero() {
			start = lap.Start.UTC().Format("2006-01-02 15:04:05")
		}
		values := []string{
			fmt.Sprint(lap.Index),
			start,
			formatDuration(lap.Elapsed),
			optionalText(lap.Distance, formatDistance),
			optionalText(lap.AvgHR, func(v float64) string { return fmt.Sprintf("%.0f", v) }),
			optionalText(lap.MaxHR, func(v float64) string { return fmt.Sprintf("%.0f", v) }),
			optionalText(lap.AvgSpeed, func(v float64) string { return fmt.Sprintf("%.2f m/s", v) }),
		}
		renderTableRow(pdf, widths, values, 5)
	}
	pdf.Ln(4)
}

func addIssuesSection(pdf *gofpdf.Fpdf, issues []string, tr Translator, utf func(string) string) {
	heading(pdf, utf(tr.T("issues")))
	if len(issues) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, utf(tr.T("no_issues")), "", "L", false)
		return
	}
	pdf.SetFont("Helvetica", "", 9)
	for i, is := range issues {
		pdf.MultiCell(0, 5, utf(fmt.Sprintf("%d. %s", i+1, is)), "", "L", false)
	}
}

func renderTableRow(pdf *gofpdf.Fpdf, widths []float64, values []string, lineHeight float64) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		lines := pdf.SplitText(emptyFallback(val, "-"), widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		pdf.MultiCell(widths[i], lineHeight, strings.Join(lines, "\n"), "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

func optionalText(v *float64, format func(float64) string) string {
	if v == nil {
		return "-"
	}
	return format(*v)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	sec := (d % time.Minute) / time.Second
	return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
}

func formatDistance(m float64) string {
	if m >= 1000 {
		return fmt.Sprintf("%.2f km", m/1000)
	}
	return fmt.Sprintf("%.0f m", m)
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}

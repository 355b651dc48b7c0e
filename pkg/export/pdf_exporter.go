package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// PassSlip is the printable content of an approved gate pass.
type PassSlip struct {
	Title              string
	RequestID          string
	StudentName        string
	StudentID          string
	Course             string
	RoomNumber         string
	Reason             string
	Destination        string
	OutTime            time.Time
	ExpectedReturnTime time.Time
	TokenValue         string
	UsesAllowed        int
	UsesCount          int
	TokenStatus        string
	Trail              []SlipTrailRow
}

// SlipTrailRow is one line of the approval trail printed on the slip.
type SlipTrailRow struct {
	Stage  string
	Action string
	Actor  string
	At     time.Time
}

// PDFExporter renders gate pass slips into a one-page PDF.
type PDFExporter struct {
	location *time.Location
}

// NewPDFExporter constructs a PDF exporter that prints times in loc.
func NewPDFExporter(loc *time.Location) *PDFExporter {
	if loc == nil {
		loc = time.UTC
	}
	return &PDFExporter{location: loc}
}

// Render creates the slip document.
func (e *PDFExporter) Render(slip PassSlip) ([]byte, error) {
	if slip.RequestID == "" || slip.TokenValue == "" {
		return nil, fmt.Errorf("slip requires a request id and token value")
	}
	title := slip.Title
	if title == "" {
		title = "Gate Pass"
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, strings.ToUpper(title), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	rows := [][2]string{
		{"Request", slip.RequestID},
		{"Student", strings.TrimSpace(slip.StudentName + " " + bracket(slip.StudentID))},
		{"Course", slip.Course},
		{"Room", slip.RoomNumber},
		{"Destination", slip.Destination},
		{"Reason", slip.Reason},
		{"Out", e.format(slip.OutTime)},
		{"Return by", e.format(slip.ExpectedReturnTime)},
		{"Uses", fmt.Sprintf("%d of %d (%s)", slip.UsesCount, slip.UsesAllowed, slip.TokenStatus)},
	}
	for _, row := range rows {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(40, 8, row[0], "1", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 8, row[1], "1", 1, "", false, 0, "")
	}

	pdf.Ln(6)
	pdf.SetFont("Courier", "B", 14)
	pdf.CellFormat(0, 12, slip.TokenValue, "1", 1, "C", false, 0, "")

	if len(slip.Trail) > 0 {
		pdf.Ln(6)
		pdf.SetFont("Arial", "B", 10)
		headers := []string{"Stage", "Action", "By", "At"}
		for _, h := range headers {
			pdf.CellFormat(45, 8, h, "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 9)
		for _, r := range slip.Trail {
			pdf.CellFormat(45, 7, r.Stage, "1", 0, "", false, 0, "")
			pdf.CellFormat(45, 7, r.Action, "1", 0, "", false, 0, "")
			pdf.CellFormat(45, 7, r.Actor, "1", 0, "", false, 0, "")
			pdf.CellFormat(45, 7, e.format(r.At), "1", 0, "", false, 0, "")
			pdf.Ln(-1)
		}
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *PDFExporter) format(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(e.location).Format("Mon 02 Jan 2006 15:04")
}

func bracket(v string) string {
	if v == "" {
		return ""
	}
	return "(" + v + ")"
}

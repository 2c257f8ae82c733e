package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	servicing "linkband-cloud/internal/servicing/domain"
)

// BuildServiceReportPDF renders a service request summary for an organization.
func BuildServiceReportPDF(organizationID string, requests []servicing.Request, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Service Request Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Organization: %s", organizationID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.UTC().Format(time.RFC3339)))
	pdf.Ln(5)

	open := 0
	for _, request := range requests {
		if request.Open() {
			open++
		}
	}
	pdf.Cell(0, 6, fmt.Sprintf("Requests: %d (%d open)", len(requests), open))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(40, 6, "Request", "1", 0, "C", false, 0, "")
	pdf.CellFormat(38, 6, "Device", "1", 0, "C", false, 0, "")
	pdf.CellFormat(32, 6, "Type", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Priority", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Status", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Opened", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 8)
	for _, request := range requests {
		pdf.CellFormat(40, 6, request.ID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(38, 6, request.DeviceID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(32, 6, string(request.RequestType), "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 6, string(request.Priority), "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, string(request.Status), "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, request.CreatedAt.Format("2006-01-02"), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

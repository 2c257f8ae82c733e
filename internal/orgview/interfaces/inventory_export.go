package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	orgview "linkband-cloud/internal/orgview/domain"
)

// BuildInventoryXLSX renders an organization's device inventory workbook.
func BuildInventoryXLSX(organizationID string, views []orgview.DeviceView, generatedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	devicesSheet := "devices"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(devicesSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Device Inventory")
	_ = f.SetCellValue(summarySheet, "A3", "Organization")
	_ = f.SetCellValue(summarySheet, "B3", organizationID)
	_ = f.SetCellValue(summarySheet, "A4", "Generated")
	_ = f.SetCellValue(summarySheet, "B4", generatedAt.UTC().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A5", "Devices")
	_ = f.SetCellValue(summarySheet, "B5", len(views))

	headers := []string{
		"Device", "Serial", "Type", "Status", "Battery",
		"Allocation", "Allocation Type", "Allocation Status",
		"Rental End", "Warranty End",
		"Assigned To", "Location", "Open Requests", "Synced",
	}
	for i, header := range headers {
		column, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetCellValue(devicesSheet, column+"1", header)
	}

	formatDate := func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("2006-01-02")
	}
	for i, view := range views {
		row := i + 2
		values := []any{
			view.DeviceID,
			view.SerialNumber,
			view.DeviceType,
			view.DeviceStatus,
			view.BatteryHealth,
			view.AllocationID,
			view.AllocationType,
			view.AllocationStatus,
			formatDate(view.RentalEndDate),
			formatDate(view.WarrantyEndDate),
			view.AssignedUserName,
			view.Location,
			view.OpenServiceRequests,
			view.SyncedAt.Format(time.RFC3339),
		}
		for j, value := range values {
			column, _ := excelize.ColumnNumberToName(j + 1)
			_ = f.SetCellValue(devicesSheet, fmt.Sprintf("%s%d", column, row), value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

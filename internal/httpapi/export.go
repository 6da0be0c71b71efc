package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"sos-relay/internal/models"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const exportSheet = "SOS Alerts"

var exportHeaders = []string{"ID", "Time", "Name", "Channel", "Location", "Message", "External ID", "Map Link"}

var exportColumnWidths = []float64{38, 22, 20, 12, 24, 40, 68, 60}

// ExportToday returns today's alerts as an XLSX workbook.
func (h *Handler) ExportToday(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.queries.Today(r.Context())
	if err != nil {
		h.logger.Error("Failed to fetch today's alerts for export", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to fetch SOS alerts"})
		return
	}

	f, err := buildAlertWorkbook(alerts)
	if err != nil {
		h.logger.Error("Failed to build alert workbook", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to export SOS alerts"})
		return
	}
	defer f.Close()

	name := fmt.Sprintf("sos-alerts-%s.xlsx", h.now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if err := f.Write(w); err != nil {
		h.logger.Warn("Failed to stream alert workbook", zap.Error(err))
	}
}

// buildAlertWorkbook writes one header row and one row per alert. The caller
// closes the returned file.
func buildAlertWorkbook(alerts []models.EnrichedAlert) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#FDE2E1"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range exportHeaders {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(exportSheet, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(exportSheet, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(exportSheet, name, name, exportColumnWidths[col]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, a := range alerts {
		row := []any{
			a.ID,
			a.CreatedAt.Format("2006-01-02 15:04:05"),
			a.Name,
			string(a.ChannelKind),
			a.Location,
			a.Message,
			a.Receipt.ExternalIDValue(),
			derefString(a.MapLink),
		}
		cell := "A" + strconv.Itoa(i+2)
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	return f, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

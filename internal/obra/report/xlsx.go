package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/mschirtzinger/obracontrol/internal/obra/schema"
)

// Sheet names in the workbook.
const (
	SheetSummary   = "Resumen"
	SheetMaterials = "Materiales"
	SheetLabor     = "Mano de Obra"
	SheetLogs      = "Bitácora"
)

// XLSXContentType is the media type of WriteXLSX output.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// WriteXLSX renders the report as a workbook with one sheet per section.
func WriteXLSX(w io.Writer, r Weekly) error {
	f := excelize.NewFile()
	defer f.Close()

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	summary := [][]any{
		{"Informe Semanal", r.Project},
		{"Desde", r.Since.Format(schema.DateLayout)},
		{"Hasta", r.GeneratedAt.Format(schema.DateLayout)},
		{},
		{"Pedidos Mano Obra", r.LaborWeeklyRequest},
		{"Materiales Pendientes", len(r.PendingMaterials)},
		{"Costo Materiales Pendientes", r.PendingMaterialsCost},
		{"Total a Pagar (Semana)", r.TotalWeeklyPayment},
		{},
		{"Presupuesto Total MO", r.LaborBudget},
		{"Pagado Total MO", r.LaborPaid},
		{"Presupuesto Rubros", r.StagesBudget},
		{"Pagado Rubros", r.StagesPaid},
		{"Entradas de Bitácora", len(r.Logs)},
	}
	if err := writeRows(f, SheetSummary, summary); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetSummary, "A", "A", 30); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}

	materials := [][]any{{"Item", "Cant", "Proveedor", "Estado", "Costo Est."}}
	for _, m := range r.PendingMaterials {
		materials = append(materials, []any{m.Name, m.Quantity, m.Provider, m.Status.Label(), m.Cost})
	}
	labor := [][]any{{"Contratista", "Pedido Semanal", "% Pagado"}}
	for _, l := range r.Labor {
		labor = append(labor, []any{l.Name, l.WeeklyRequest, l.PaidPercent})
	}
	logs := [][]any{{"Fecha", "Clima", "Operarios", "Notas", "Foto"}}
	for _, l := range r.Logs {
		logs = append(logs, []any{l.Date, l.Weather, l.Workers, l.Notes, l.Image})
	}

	for _, sheet := range []struct {
		name string
		rows [][]any
	}{
		{SheetMaterials, materials},
		{SheetLabor, labor},
		{SheetLogs, logs},
	} {
		if _, err := f.NewSheet(sheet.name); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", sheet.name, err)
		}
		if err := writeRows(f, sheet.name, sheet.rows); err != nil {
			return err
		}
		last, err := excelize.CoordinatesToCellName(len(sheet.rows[0]), 1)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet.name, "A1", last, header); err != nil {
			return fmt.Errorf("failed to style %s header: %w", sheet.name, err)
		}
		if err := f.SetColWidth(sheet.name, "A", "A", 28); err != nil {
			return fmt.Errorf("failed to size columns: %w", err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// Package report builds the weekly site report: what has to be paid this
// week, what is still to be bought, and what happened on site.
package report

import (
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mschirtzinger/obracontrol/internal/obra/schema"
)

// Window is the period covered by the report.
const Window = 7 * 24 * time.Hour

// LaborLine is one contractor in the labor section.
type LaborLine struct {
	Name          string  `json:"name"`
	WeeklyRequest float64 `json:"weeklyRequest"`
	PaidPercent   int     `json:"paidPercent"`
}

// Weekly is the report for one project.
type Weekly struct {
	Project     string    `json:"project"`
	GeneratedAt time.Time `json:"generatedAt"`
	Since       time.Time `json:"since"`

	PendingMaterials     []schema.MaterialItem `json:"pendingMaterials"`
	PendingMaterialsCost float64               `json:"pendingMaterialsCost"`

	Labor              []LaborLine `json:"labor"`
	LaborBudget        float64     `json:"laborBudget"`
	LaborPaid          float64     `json:"laborPaid"`
	LaborWeeklyRequest float64     `json:"laborWeeklyRequest"`

	StagesBudget float64 `json:"stagesBudget"`
	StagesPaid   float64 `json:"stagesPaid"`

	// TotalWeeklyPayment is labor requests plus pending material costs.
	TotalWeeklyPayment float64 `json:"totalWeeklyPayment"`

	Logs   []schema.LogEntry `json:"logs"`
	Photos []schema.LogEntry `json:"photos"`
}

// Build computes the weekly report for p as of now.
func Build(p *schema.Project, now time.Time) Weekly {
	r := Weekly{
		Project:          p.Name,
		GeneratedAt:      now,
		Since:            now.Add(-Window),
		PendingMaterials: []schema.MaterialItem{},
		Labor:            []LaborLine{},
		Logs:             []schema.LogEntry{},
		Photos:           []schema.LogEntry{},
	}

	for _, m := range p.Materials {
		if m.Status == schema.MaterialPending || m.Status == schema.MaterialOrdered {
			r.PendingMaterials = append(r.PendingMaterials, m)
			r.PendingMaterialsCost += m.Cost
		}
	}

	for _, s := range p.Stages {
		r.StagesBudget += s.TotalCost
		r.StagesPaid += s.PaidAmount
	}

	for _, c := range p.Labor {
		r.LaborBudget += c.TotalBudget
		r.LaborPaid += c.PaidAmount
		r.LaborWeeklyRequest += c.WeeklyRequest
		line := LaborLine{Name: c.Name, WeeklyRequest: c.WeeklyRequest}
		if c.TotalBudget > 0 {
			line.PaidPercent = int(math.Round(c.PaidAmount / c.TotalBudget * 100))
		}
		r.Labor = append(r.Labor, line)
	}

	r.TotalWeeklyPayment = r.LaborWeeklyRequest + r.PendingMaterialsCost

	for _, l := range p.Logs {
		day, err := time.ParseInLocation(schema.DateLayout, l.Date, now.Location())
		if err != nil || day.Before(r.Since) {
			continue
		}
		r.Logs = append(r.Logs, l)
		if l.Image != "" {
			r.Photos = append(r.Photos, l)
		}
	}
	return r
}

// FormatCurrency renders an amount as whole pesos with dot thousands
// separators, e.g. "$ 1.500.000".
func FormatCurrency(amount float64) string {
	n := int64(math.Round(amount))
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	digits := fmt.Sprintf("%d", n)
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(d)
	}
	return sign + "$ " + b.String()
}

// WriteText renders the report as plain text.
func WriteText(w io.Writer, r Weekly) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	p := func(format string, args ...any) {
		fmt.Fprintf(tw, format, args...)
	}

	p("Informe Semanal: %s\n", r.Project)
	p("Período: %s a %s\n\n", r.Since.Format(schema.DateLayout), r.GeneratedAt.Format(schema.DateLayout))

	p("Estado Mano de Obra\n")
	p("  Presupuesto Total MO\t%s\n", FormatCurrency(r.LaborBudget))
	p("  Pagado Total\t%s\n", FormatCurrency(r.LaborPaid))
	for _, l := range r.Labor {
		request := ""
		if l.WeeklyRequest > 0 {
			request = "Pide: " + FormatCurrency(l.WeeklyRequest)
		}
		p("  %s\t%s\t%d%% Pagado\n", l.Name, request, l.PaidPercent)
	}

	p("\nCompras Pendientes\n")
	if len(r.PendingMaterials) == 0 {
		p("  No hay materiales pendientes.\n")
	}
	for _, m := range r.PendingMaterials {
		p("  %s\t%s\t%s\n", m.Name, m.Quantity, FormatCurrency(m.Cost))
	}

	p("\nAvance por Rubros\n")
	p("  Presupuesto Rubros\t%s\n", FormatCurrency(r.StagesBudget))
	p("  Pagado Rubros\t%s\n", FormatCurrency(r.StagesPaid))

	p("\nResumen\n")
	p("  Pedidos Mano Obra\t%s\n", FormatCurrency(r.LaborWeeklyRequest))
	p("  Materiales Pendientes\t%d (Est. %s)\n", len(r.PendingMaterials), FormatCurrency(r.PendingMaterialsCost))
	p("  Total a Pagar (Semana)\t%s\n", FormatCurrency(r.TotalWeeklyPayment))

	p("\nBitácora\n")
	if len(r.Logs) == 0 {
		p("  No hay registros de bitácora esta semana.\n")
	} else {
		p("  Esta semana se han registrado %d entradas en la bitácora de obra.\n", len(r.Logs))
	}
	for _, l := range r.Logs {
		p("  %s\t%s\t%s\n", l.Date, l.Weather, l.Notes)
	}
	if len(r.Photos) > 0 {
		p("\nGalería de la Semana\n")
		for _, l := range r.Photos {
			p("  %s\t%s\n", l.Date, l.Image)
		}
	}

	return tw.Flush()
}

package schema

// Totals are the derived money figures shown on the project header.
type Totals struct {
	Budget          float64 `json:"budget"`
	LaborPaid       float64 `json:"laborPaid"`
	MaterialsSpent  float64 `json:"materialsSpent"`
	StagesPaid      float64 `json:"stagesPaid"`
	FeesPaid        float64 `json:"feesPaid"`
	Spent           float64 `json:"spent"`
	Remaining       float64 `json:"remaining"`
	StageProgress   int     `json:"stageProgress"`
	PendingRequests float64 `json:"pendingRequests"`
}

// ComputeTotals derives spending figures. Spent counts labor payments,
// received materials and stage payments; fees are reported separately.
func ComputeTotals(p *Project) Totals {
	var t Totals
	if p == nil {
		return t
	}
	t.Budget = p.Budget
	for _, c := range p.Labor {
		t.LaborPaid += c.PaidAmount
		t.PendingRequests += c.WeeklyRequest
	}
	for _, c := range p.Fees {
		t.FeesPaid += c.PaidAmount
		t.PendingRequests += c.WeeklyRequest
	}
	for _, m := range p.Materials {
		if m.Status == MaterialReceived {
			t.MaterialsSpent += m.Cost
		}
	}
	var progress int
	for _, s := range p.Stages {
		t.StagesPaid += s.PaidAmount
		progress += s.Progress
	}
	if len(p.Stages) > 0 {
		t.StageProgress = progress / len(p.Stages)
	}
	t.Spent = t.LaborPaid + t.MaterialsSpent + t.StagesPaid
	t.Remaining = t.Budget - t.Spent
	return t
}

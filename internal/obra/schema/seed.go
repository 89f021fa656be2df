package schema

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/BurntSushi/toml"
)

// DefaultProjectName is the name of the single project in the seed dataset.
const DefaultProjectName = "Edificio Altos de Alberdi"

//go:embed seed.toml
var seedTOML string

type seedFile struct {
	Project []seedProject `toml:"project"`
}

type seedProject struct {
	ID       int64        `toml:"id"`
	Name     string       `toml:"name"`
	Status   string       `toml:"status"`
	Budget   float64      `toml:"budget"`
	Progress int          `toml:"progress"`
	Stage    []seedStage  `toml:"stage"`
	Labor    []seedPerson `toml:"labor"`
	Fees     []seedPerson `toml:"fees"`
}

type seedStage struct {
	ID         int64   `toml:"id"`
	Name       string  `toml:"name"`
	Contractor string  `toml:"contractor"`
	TotalCost  float64 `toml:"total_cost"`
	PaidAmount float64 `toml:"paid_amount"`
	Progress   int     `toml:"progress"`
}

type seedPerson struct {
	ID            int64   `toml:"id"`
	Name          string  `toml:"name"`
	Role          string  `toml:"role"`
	TotalBudget   float64 `toml:"total_budget"`
	PaidAmount    float64 `toml:"paid_amount"`
	Progress      int     `toml:"progress"`
	WeeklyRequest float64 `toml:"weekly_request"`
}

var (
	seedOnce sync.Once
	seedData Snapshot
	seedErr  error
)

// Seed returns a fresh copy of the built-in dataset used for unused keys.
func Seed() Snapshot {
	seedOnce.Do(func() {
		seedData, seedErr = ParseSeed(seedTOML)
	})
	if seedErr != nil {
		// The embedded file is part of the binary; a parse failure is a build defect.
		panic(seedErr)
	}
	return seedData.Clone()
}

// ParseSeed decodes a seed dataset in TOML form.
func ParseSeed(data string) (Snapshot, error) {
	var file seedFile
	if _, err := toml.Decode(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode seed: %w", err)
	}
	if len(file.Project) == 0 {
		return nil, fmt.Errorf("seed has no projects")
	}

	snap := make(Snapshot, len(file.Project))
	for _, sp := range file.Project {
		p := NewProject(sp.Name, sp.Budget)
		p.Status = ProjectStatus(sp.Status)
		p.Progress = sp.Progress
		for _, st := range sp.Stage {
			p.Stages = append(p.Stages, Stage{
				ID:         ID(st.ID),
				Name:       st.Name,
				Contractor: st.Contractor,
				TotalCost:  st.TotalCost,
				PaidAmount: st.PaidAmount,
				Progress:   st.Progress,
			})
		}
		p.Labor = append(p.Labor, convertPeople(sp.Labor)...)
		p.Fees = append(p.Fees, convertPeople(sp.Fees)...)
		snap[ID(sp.ID)] = p
	}
	return snap, nil
}

func convertPeople(in []seedPerson) []Contractor {
	out := make([]Contractor, 0, len(in))
	for _, sp := range in {
		out = append(out, Contractor{
			ID:            ID(sp.ID),
			Name:          sp.Name,
			Role:          sp.Role,
			TotalBudget:   sp.TotalBudget,
			PaidAmount:    sp.PaidAmount,
			Progress:      sp.Progress,
			WeeklyRequest: sp.WeeklyRequest,
		})
	}
	return out
}

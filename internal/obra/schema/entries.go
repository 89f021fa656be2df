package schema

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrBackwardTransition is returned when a material status would move backwards.
	ErrBackwardTransition = errors.New("material status cannot move backwards")

	// ErrEntryNotFound is returned when an id is not present in a section.
	ErrEntryNotFound = errors.New("entry not found")
)

// LogEntry is one daily log (bitácora) record.
type LogEntry struct {
	ID      ID     `json:"id"`
	Date    string `json:"date"`
	Weather string `json:"weather"`
	Workers int    `json:"workers"`
	Notes   string `json:"notes"`
	Image   string `json:"image,omitempty"`
}

// MaterialItem is one material order.
type MaterialItem struct {
	ID       ID               `json:"id"`
	Name     string           `json:"name"`
	Quantity string           `json:"quantity"`
	Cost     float64          `json:"cost"`
	Status   MaterialStatus   `json:"status"`
	Category MaterialCategory `json:"category"`
	Provider string           `json:"provider"`
	Date     string           `json:"date"`
}

// Stage is a physical progress stage with its payment state.
type Stage struct {
	ID         ID      `json:"id"`
	Name       string  `json:"name"`
	Contractor string  `json:"contractor"`
	TotalCost  float64 `json:"totalCost"`
	PaidAmount float64 `json:"paidAmount"`
	Progress   int     `json:"progress"`
}

// PaidPercent returns paidAmount as a percentage of totalCost.
func (s Stage) PaidPercent() float64 {
	if s.TotalCost <= 0 {
		return 0
	}
	return s.PaidAmount / s.TotalCost * 100
}

// PaymentAhead reports whether more has been paid than built.
func (s Stage) PaymentAhead() bool {
	return s.PaidPercent() > float64(s.Progress)
}

// Contractor is a labor contractor or a fee (honorarios) account.
// Progress is only meaningful for labor.
type Contractor struct {
	ID            ID      `json:"id"`
	Name          string  `json:"name"`
	Role          string  `json:"role"`
	TotalBudget   float64 `json:"totalBudget"`
	PaidAmount    float64 `json:"paidAmount"`
	Progress      int     `json:"progress,omitempty"`
	WeeklyRequest float64 `json:"weeklyRequest"`
}

// Remaining returns the unpaid part of the budget.
func (c Contractor) Remaining() float64 {
	return c.TotalBudget - c.PaidAmount
}

// Task is one task board entry. The text is stored under "task".
type Task struct {
	ID        ID       `json:"id"`
	Text      string   `json:"task"`
	Deadline  string   `json:"deadline"`
	Completed bool     `json:"completed"`
	Type      TaskType `json:"type"`
	Assignee  string   `json:"assignee"`
	Progress  int      `json:"progress"`
}

func (e LogEntry) entryID() ID     { return e.ID }
func (e MaterialItem) entryID() ID { return e.ID }
func (e Stage) entryID() ID        { return e.ID }
func (e Contractor) entryID() ID   { return e.ID }
func (e Task) entryID() ID         { return e.ID }

// Entry is implemented by every collection element.
type Entry interface {
	LogEntry | MaterialItem | Stage | Contractor | Task
	entryID() ID
}

// Find returns the entry with the given id.
func Find[T Entry](items []T, id ID) (T, bool) {
	for _, item := range items {
		if item.entryID() == id {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// RemoveByID returns items without the entry with the given id.
func RemoveByID[T Entry](items []T, id ID) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if item.entryID() != id {
			out = append(out, item)
		}
	}
	return out
}

// replaceByID applies fn to the entry with the given id in a copy of items.
func replaceByID[T Entry](items []T, id ID, fn func(*T) error) ([]T, error) {
	out := make([]T, len(items))
	copy(out, items)
	for i := range out {
		if out[i].entryID() == id {
			if err := fn(&out[i]); err != nil {
				return nil, err
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("id %d: %w", id, ErrEntryNotFound)
}

// PrependLog returns logs with entry first. A zero id is assigned.
func PrependLog(logs []LogEntry, entry LogEntry) []LogEntry {
	if entry.ID == 0 {
		entry.ID = NewID()
	}
	out := make([]LogEntry, 0, len(logs)+1)
	out = append(out, entry)
	return append(out, logs...)
}

// AppendMaterial returns materials with a new pending order appended.
func AppendMaterial(materials []MaterialItem, item MaterialItem) []MaterialItem {
	if item.ID == 0 {
		item.ID = NewID()
	}
	if item.Status == "" {
		item.Status = MaterialPending
	}
	if item.Category == "" {
		item.Category = CategoryMasonry
	}
	if item.Date == "" {
		item.Date = NoDate
	}
	if item.Cost < 0 {
		item.Cost = 0
	}
	return append(cloneOf(materials), item)
}

// AdvanceMaterial moves one material to its next status. Ordering a
// pending material stamps today's date.
func AdvanceMaterial(materials []MaterialItem, id ID, now time.Time) ([]MaterialItem, error) {
	return replaceByID(materials, id, func(m *MaterialItem) error {
		next := m.Status.Next()
		if m.Status != MaterialOrdered && next == MaterialOrdered && (m.Date == "" || m.Date == NoDate) {
			m.Date = now.Format(DateLayout)
		}
		m.Status = next
		return nil
	})
}

// SetMaterialStatus sets a material's status, rejecting backward moves.
func SetMaterialStatus(materials []MaterialItem, id ID, status MaterialStatus) ([]MaterialItem, error) {
	return replaceByID(materials, id, func(m *MaterialItem) error {
		if !m.Status.CanTransitionTo(status) {
			return fmt.Errorf("%s -> %s: %w", m.Status, status, ErrBackwardTransition)
		}
		m.Status = status
		return nil
	})
}

// UpsertStage replaces the stage with the same id or appends a new one.
func UpsertStage(stages []Stage, stage Stage) []Stage {
	if stage.ID != 0 {
		if out, err := replaceByID(stages, stage.ID, func(s *Stage) error {
			*s = stage
			return nil
		}); err == nil {
			return out
		}
	} else {
		stage.ID = NewID()
	}
	stage.Progress = clampPercent(stage.Progress)
	return append(cloneOf(stages), stage)
}

// SetStageProgress sets a stage's physical progress, clamped to 0-100.
func SetStageProgress(stages []Stage, id ID, progress int) ([]Stage, error) {
	return replaceByID(stages, id, func(s *Stage) error {
		s.Progress = clampPercent(progress)
		return nil
	})
}

// AppendContractor returns contractors with a new entry appended.
func AppendContractor(contractors []Contractor, c Contractor) []Contractor {
	if c.ID == 0 {
		c.ID = NewID()
	}
	if c.Role == "" {
		c.Role = "Contratista"
	}
	return append(cloneOf(contractors), c)
}

// SetWeeklyRequest records the amount a contractor asks for this week.
func SetWeeklyRequest(contractors []Contractor, id ID, amount float64) ([]Contractor, error) {
	if amount < 0 {
		amount = 0
	}
	return replaceByID(contractors, id, func(c *Contractor) error {
		c.WeeklyRequest = amount
		return nil
	})
}

// SetContractorProgress sets a labor contractor's progress, clamped to 0-100.
func SetContractorProgress(contractors []Contractor, id ID, progress int) ([]Contractor, error) {
	return replaceByID(contractors, id, func(c *Contractor) error {
		c.Progress = clampPercent(progress)
		return nil
	})
}

// ApprovePayment moves the pending weekly request of one contractor into
// its paid amount. A contractor with no positive request is left unchanged.
func ApprovePayment(contractors []Contractor, id ID) ([]Contractor, error) {
	return replaceByID(contractors, id, func(c *Contractor) error {
		if c.WeeklyRequest <= 0 {
			return nil
		}
		c.PaidAmount += c.WeeklyRequest
		c.WeeklyRequest = 0
		return nil
	})
}

// AppendTask returns tasks with a new entry, filling board defaults.
func AppendTask(tasks []Task, task Task) []Task {
	if task.ID == 0 {
		task.ID = NewID()
	}
	if task.Deadline == "" {
		task.Deadline = NoDeadline
	}
	if task.Assignee == "" {
		task.Assignee = Unassigned
	}
	if task.Type == "" {
		task.Type = TaskLabor
	}
	task.Progress = clampPercent(task.Progress)
	return append(cloneOf(tasks), task)
}

// ToggleTask flips a task's completed flag.
func ToggleTask(tasks []Task, id ID) ([]Task, error) {
	return replaceByID(tasks, id, func(t *Task) error {
		t.Completed = !t.Completed
		return nil
	})
}

// SetTaskProgress sets a task's progress, clamped to 0-100.
func SetTaskProgress(tasks []Task, id ID, progress int) ([]Task, error) {
	return replaceByID(tasks, id, func(t *Task) error {
		t.Progress = clampPercent(progress)
		return nil
	})
}

// DateLayout is the calendar date format used by logs, materials and tasks.
const DateLayout = "2006-01-02"

func clampPercent(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

func cloneOf[T any](items []T) []T {
	out := make([]T, len(items), len(items)+1)
	copy(out, items)
	return out
}

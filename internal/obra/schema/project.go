package schema

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"
)

// ID identifies a project or a collection entry. New ids are millisecond timestamps.
type ID int64

// String returns the decimal form used as a JSON object key.
func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseID parses a decimal id.
func ParseID(s string) (ID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return ID(n), nil
}

var (
	idMu   sync.Mutex
	lastID ID
)

// NewID returns a millisecond timestamp id, strictly greater than any id
// previously returned in this process.
func NewID() ID {
	return nextID(time.Now())
}

func nextID(now time.Time) ID {
	idMu.Lock()
	defer idMu.Unlock()

	id := ID(now.UnixMilli())
	if id <= lastID {
		id = lastID + 1
	}
	lastID = id
	return id
}

// Project is one construction site.
type Project struct {
	Name      string         `json:"name"`
	Status    ProjectStatus  `json:"status"`
	Budget    float64        `json:"budget"`
	Progress  int            `json:"progress"`
	Logs      []LogEntry     `json:"logs"`
	Materials []MaterialItem `json:"materials"`
	Stages    []Stage        `json:"stages"`
	Tasks     []Task         `json:"tasks"`
	Labor     []Contractor   `json:"labor"`
	Fees      []Contractor   `json:"fees"`
	GanttFile string         `json:"ganttFile,omitempty"`
}

// NewProject returns an active project with every collection empty.
func NewProject(name string, budget float64) *Project {
	if budget < 0 {
		budget = 0
	}
	return &Project{
		Name:      name,
		Status:    StatusActive,
		Budget:    budget,
		Logs:      []LogEntry{},
		Materials: []MaterialItem{},
		Stages:    []Stage{},
		Tasks:     []Task{},
		Labor:     []Contractor{},
		Fees:      []Contractor{},
	}
}

// Clone returns a deep copy. Nil collections stay nil.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	c := *p
	c.Logs = slices.Clone(p.Logs)
	c.Materials = slices.Clone(p.Materials)
	c.Stages = slices.Clone(p.Stages)
	c.Tasks = slices.Clone(p.Tasks)
	c.Labor = slices.Clone(p.Labor)
	c.Fees = slices.Clone(p.Fees)
	return &c
}

// Snapshot is the full dataset stored under one project key.
type Snapshot map[ID]*Project

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for id, p := range s {
		out[id] = p.Clone()
	}
	return out
}

// IDs returns the project ids in ascending order.
func (s Snapshot) IDs() []ID {
	ids := make([]ID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Summary is the project-picker view of a project.
type Summary struct {
	ID       ID            `json:"id"`
	Name     string        `json:"name"`
	Progress int           `json:"progress"`
	Status   ProjectStatus `json:"status"`
	Budget   float64       `json:"budget"`
}

// Summarize builds a Summary, filling display defaults for missing fields.
func Summarize(id ID, p *Project) Summary {
	sum := Summary{ID: id, Name: fmt.Sprintf("Obra %d", id), Status: StatusActive}
	if p == nil {
		return sum
	}
	if p.Name != "" {
		sum.Name = p.Name
	}
	if p.Status != "" {
		sum.Status = p.Status
	}
	sum.Progress = p.Progress
	sum.Budget = p.Budget
	return sum
}

package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mschirtzinger/obracontrol/internal/obra/gantt"
	"github.com/mschirtzinger/obracontrol/internal/obra/schema"
	"github.com/mschirtzinger/obracontrol/internal/obra/store"
)

// Roster selects the contractor list of a project.
type Roster = store.Section

// Details holds editable project fields. Nil fields are left unchanged.
type Details struct {
	Name     *string
	Budget   *float64
	Progress *int
}

// Project returns a copy of one project.
func (w *Workspace) Project(id schema.ID) (*schema.Project, error) {
	p, ok := w.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("project %d: %w", id, store.ErrProjectNotFound)
	}
	return p, nil
}

// Projects lists project summaries ordered by id.
func (w *Workspace) Projects() []schema.Summary {
	return w.store.List()
}

// Mutate applies fn to a copy of the project, stores the result and saves
// the dataset. It is the building block for every project operation.
func (w *Workspace) Mutate(ctx context.Context, id schema.ID, fn func(p *schema.Project) error) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	if err := w.commit(ctx, func() error { return w.store.Update(id, fn) }); err != nil {
		return err
	}
	w.emit(ChangeLocal)
	return nil
}

// CreateProject adds an empty project and makes it active.
func (w *Workspace) CreateProject(ctx context.Context, name string, budget float64) (schema.ID, error) {
	if err := w.checkOpen(); err != nil {
		return 0, err
	}
	if budget < 0 {
		budget = 0
	}
	id := schema.NewID()
	err := w.commit(ctx, func() error {
		w.store.Put(id, schema.NewProject(name, budget))
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := w.SetActiveProject(ctx, id); err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateDetails edits name, budget and progress.
func (w *Workspace) UpdateDetails(ctx context.Context, id schema.ID, d Details) error {
	return w.Mutate(ctx, id, func(p *schema.Project) error {
		if d.Name != nil {
			p.Name = *d.Name
		}
		if d.Budget != nil {
			p.Budget = max(*d.Budget, 0)
		}
		if d.Progress != nil {
			p.Progress = min(max(*d.Progress, 0), 100)
		}
		return nil
	})
}

// SetProjectStatus pauses or resumes a project.
func (w *Workspace) SetProjectStatus(ctx context.Context, id schema.ID, status schema.ProjectStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid project status %q", status)
	}
	return w.Mutate(ctx, id, func(p *schema.Project) error {
		p.Status = status
		return nil
	})
}

// RemoveProject deletes a project and returns the new active project. The
// last project is replaced with a fresh empty one.
func (w *Workspace) RemoveProject(ctx context.Context, id schema.ID) (schema.ID, error) {
	if err := w.checkOpen(); err != nil {
		return 0, err
	}

	var active schema.ID
	err := w.commit(ctx, func() error {
		if !w.store.Has(id) {
			return fmt.Errorf("project %d: %w", id, store.ErrProjectNotFound)
		}
		replacement, created := w.store.Remove(id)

		w.mu.Lock()
		defer w.mu.Unlock()
		switch {
		case created:
			w.activeProject = replacement
		case w.activeProject == id:
			w.activeProject = w.store.First()
		}
		active = w.activeProject
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := w.SetActiveProject(ctx, active); err != nil {
		return 0, err
	}
	return active, nil
}

// ReplaceSection overwrites a whole section of a project from JSON.
func (w *Workspace) ReplaceSection(ctx context.Context, id schema.ID, section store.Section, payload json.RawMessage) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	if section == store.SectionGantt {
		var dataURL string
		if err := json.Unmarshal(payload, &dataURL); err != nil {
			return fmt.Errorf("failed to decode %s: %w", section, err)
		}
		return w.SetGantt(ctx, id, dataURL)
	}
	err := w.commit(ctx, func() error {
		return w.store.ReplaceSection(id, section, payload)
	})
	if err != nil {
		return err
	}
	w.emit(ChangeLocal)
	return nil
}

// RemoveEntry deletes one entry from a project section.
func (w *Workspace) RemoveEntry(ctx context.Context, id schema.ID, section store.Section, entryID schema.ID) error {
	return w.Mutate(ctx, id, func(p *schema.Project) error {
		switch section {
		case store.SectionLogs:
			p.Logs = schema.RemoveByID(p.Logs, entryID)
		case store.SectionMaterials:
			p.Materials = schema.RemoveByID(p.Materials, entryID)
		case store.SectionStages:
			p.Stages = schema.RemoveByID(p.Stages, entryID)
		case store.SectionTasks:
			p.Tasks = schema.RemoveByID(p.Tasks, entryID)
		case store.SectionLabor:
			p.Labor = schema.RemoveByID(p.Labor, entryID)
		case store.SectionFees:
			p.Fees = schema.RemoveByID(p.Fees, entryID)
		default:
			return fmt.Errorf("%q: %w", section, store.ErrUnknownSection)
		}
		return nil
	})
}

// AddLog records a daily log entry, newest first.
func (w *Workspace) AddLog(ctx context.Context, id schema.ID, entry schema.LogEntry) (schema.ID, error) {
	if entry.ID == 0 {
		entry.ID = schema.NewID()
	}
	if entry.Date == "" {
		entry.Date = time.Now().Format(schema.DateLayout)
	}
	err := w.Mutate(ctx, id, func(p *schema.Project) error {
		p.Logs = schema.PrependLog(p.Logs, entry)
		return nil
	})
	return entry.ID, err
}

// AddMaterial records a pending material order.
func (w *Workspace) AddMaterial(ctx context.Context, id schema.ID, item schema.MaterialItem) (schema.ID, error) {
	if item.ID == 0 {
		item.ID = schema.NewID()
	}
	err := w.Mutate(ctx, id, func(p *schema.Project) error {
		p.Materials = schema.AppendMaterial(p.Materials, item)
		return nil
	})
	return item.ID, err
}

// AdvanceMaterial moves a material to its next status.
func (w *Workspace) AdvanceMaterial(ctx context.Context, id, materialID schema.ID) error {
	return w.Mutate(ctx, id, func(p *schema.Project) error {
		out, err := schema.AdvanceMaterial(p.Materials, materialID, time.Now())
		if err != nil {
			return err
		}
		p.Materials = out
		return nil
	})
}

// SetMaterialStatus sets a material status. Backward moves are rejected.
func (w *Workspace) SetMaterialStatus(ctx context.Context, id, materialID schema.ID, status schema.MaterialStatus) error {
	return w.Mutate(ctx, id, func(p *schema.Project) error {
		out, err := schema.SetMaterialStatus(p.Materials, materialID, status)
		if err != nil {
			return err
		}
		p.Materials = out
		return nil
	})
}

// UpsertStage adds a stage or replaces the stage with the same id.
func (w *Workspace) UpsertStage(ctx context.Context, id schema.ID, stage schema.Stage) (schema.ID, error) {
	if stage.ID == 0 {
		stage.ID = schema.NewID()
	}
	err := w.Mutate(ctx, id, func(p *schema.Project) error {
		p.Stages = schema.UpsertStage(p.Stages, stage)
		return nil
	})
	return stage.ID, err
}

// SetStageProgress sets the physical progress of a stage.
func (w *Workspace) SetStageProgress(ctx context.Context, id, stageID schema.ID, progress int) error {
	return w.Mutate(ctx, id, func(p *schema.Project) error {
		out, err := schema.SetStageProgress(p.Stages, stageID, progress)
		if err != nil {
			return err
		}
		p.Stages = out
		return nil
	})
}

// AddContractor appends a labor contractor or a fee account.
func (w *Workspace) AddContractor(ctx context.Context, id schema.ID, roster Roster, c schema.Contractor) (schema.ID, error) {
	if c.ID == 0 {
		c.ID = schema.NewID()
	}
	err := w.mutateRoster(ctx, id, roster, func(list []schema.Contractor) ([]schema.Contractor, error) {
		return schema.AppendContractor(list, c), nil
	})
	return c.ID, err
}

// SetWeeklyRequest stages the amount a contractor asks for this week.
func (w *Workspace) SetWeeklyRequest(ctx context.Context, id schema.ID, roster Roster, contractorID schema.ID, amount float64) error {
	return w.mutateRoster(ctx, id, roster, func(list []schema.Contractor) ([]schema.Contractor, error) {
		return schema.SetWeeklyRequest(list, contractorID, amount)
	})
}

// SetContractorProgress sets a labor contractor's progress.
func (w *Workspace) SetContractorProgress(ctx context.Context, id schema.ID, roster Roster, contractorID schema.ID, progress int) error {
	return w.mutateRoster(ctx, id, roster, func(list []schema.Contractor) ([]schema.Contractor, error) {
		return schema.SetContractorProgress(list, contractorID, progress)
	})
}

// ApprovePayment moves a contractor's weekly request into its paid amount.
func (w *Workspace) ApprovePayment(ctx context.Context, id schema.ID, roster Roster, contractorID schema.ID) error {
	return w.mutateRoster(ctx, id, roster, func(list []schema.Contractor) ([]schema.Contractor, error) {
		return schema.ApprovePayment(list, contractorID)
	})
}

func (w *Workspace) mutateRoster(ctx context.Context, id schema.ID, roster Roster, fn func([]schema.Contractor) ([]schema.Contractor, error)) error {
	if roster != store.SectionLabor && roster != store.SectionFees {
		return fmt.Errorf("%q is not a contractor list: %w", roster, store.ErrUnknownSection)
	}
	return w.Mutate(ctx, id, func(p *schema.Project) error {
		list := &p.Labor
		if roster == store.SectionFees {
			list = &p.Fees
		}
		out, err := fn(*list)
		if err != nil {
			return err
		}
		*list = out
		return nil
	})
}

// AddTasks appends tasks to the board and returns their ids.
func (w *Workspace) AddTasks(ctx context.Context, id schema.ID, tasks ...schema.Task) ([]schema.ID, error) {
	ids := make([]schema.ID, len(tasks))
	for i := range tasks {
		if tasks[i].ID == 0 {
			tasks[i].ID = schema.NewID()
		}
		ids[i] = tasks[i].ID
	}
	err := w.Mutate(ctx, id, func(p *schema.Project) error {
		for _, t := range tasks {
			p.Tasks = schema.AppendTask(p.Tasks, t)
		}
		return nil
	})
	return ids, err
}

// ToggleTask flips a task's completed flag.
func (w *Workspace) ToggleTask(ctx context.Context, id, taskID schema.ID) error {
	return w.Mutate(ctx, id, func(p *schema.Project) error {
		out, err := schema.ToggleTask(p.Tasks, taskID)
		if err != nil {
			return err
		}
		p.Tasks = out
		return nil
	})
}

// SetTaskProgress sets a task's progress.
func (w *Workspace) SetTaskProgress(ctx context.Context, id, taskID schema.ID, progress int) error {
	return w.Mutate(ctx, id, func(p *schema.Project) error {
		out, err := schema.SetTaskProgress(p.Tasks, taskID, progress)
		if err != nil {
			return err
		}
		p.Tasks = out
		return nil
	})
}

// SetGantt stores or clears the Gantt attachment data URL. A non-empty
// URL must hold a PDF within gantt.MaxSize.
func (w *Workspace) SetGantt(ctx context.Context, id schema.ID, dataURL string) error {
	if dataURL != "" {
		if _, err := gantt.ValidateDataURL(dataURL); err != nil {
			return err
		}
	}
	return w.Mutate(ctx, id, func(p *schema.Project) error {
		p.GanttFile = dataURL
		return nil
	})
}

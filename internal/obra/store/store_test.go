package store

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/mschirtzinger/obracontrol/internal/obra/schema"
)

func TestNew_EmptySnapshot(t *testing.T) {
	s := New(nil)
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
	p, ok := s.Get(s.First())
	if !ok || p.Name != FallbackProjectName {
		t.Errorf("fallback project = %+v", p)
	}
}

func TestRemove_LastProjectSynthesizesOne(t *testing.T) {
	s := New(schema.Seed())

	replacement, created := s.Remove(1)
	if !created {
		t.Fatal("Remove() of last project did not create a replacement")
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
	p, ok := s.Get(replacement)
	if !ok {
		t.Fatalf("replacement %d not found", replacement)
	}
	if len(p.Logs) != 0 || len(p.Stages) != 0 || p.Status != schema.StatusActive {
		t.Errorf("replacement project = %+v", p)
	}
}

func TestRemove_KeepsOthers(t *testing.T) {
	snap := schema.Seed()
	snap[2] = schema.NewProject("Casa X", 10)
	s := New(snap)

	if _, created := s.Remove(1); created {
		t.Error("Remove() created a project although one remained")
	}
	if s.Has(1) || !s.Has(2) {
		t.Errorf("after Remove(1): has1=%v has2=%v", s.Has(1), s.Has(2))
	}
}

func TestUpdate(t *testing.T) {
	s := New(schema.Seed())

	err := s.Update(1, func(p *schema.Project) error {
		p.Name = "Casa X"
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	p, _ := s.Get(1)
	if p.Name != "Casa X" {
		t.Errorf("Name = %q, want Casa X", p.Name)
	}

	if err := s.Update(99, func(*schema.Project) error { return nil }); !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("Update() unknown id error = %v, want ErrProjectNotFound", err)
	}

	boom := errors.New("boom")
	if err := s.Update(1, func(p *schema.Project) error {
		p.Name = "discarded"
		return boom
	}); !errors.Is(err, boom) {
		t.Errorf("Update() error = %v, want boom", err)
	}
	p, _ = s.Get(1)
	if p.Name != "Casa X" {
		t.Errorf("failed Update() leaked change: %q", p.Name)
	}
}

func TestReplaceSection(t *testing.T) {
	s := New(schema.Seed())

	tasks := []schema.Task{{ID: 5, Text: "Revocar", Type: schema.TaskLabor}}
	payload, _ := json.Marshal(tasks)

	if err := s.ReplaceSection(1, SectionTasks, payload); err != nil {
		t.Fatalf("ReplaceSection() error = %v", err)
	}
	p, _ := s.Get(1)
	if len(p.Tasks) != 1 || p.Tasks[0].Text != "Revocar" {
		t.Errorf("Tasks = %+v", p.Tasks)
	}

	if err := s.ReplaceSection(1, "budget", payload); !errors.Is(err, ErrUnknownSection) {
		t.Errorf("ReplaceSection() error = %v, want ErrUnknownSection", err)
	}
	if err := s.ReplaceSection(1, SectionLogs, json.RawMessage(`{"not":"a list"}`)); err == nil {
		t.Error("ReplaceSection() expected decode error")
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	s := New(schema.Seed())

	p, _ := s.Get(1)
	p.Stages[0].Name = "mutated"

	again, _ := s.Get(1)
	if again.Stages[0].Name == "mutated" {
		t.Error("Get() exposes internal state")
	}
}

func TestList(t *testing.T) {
	snap := schema.Seed()
	snap[5] = &schema.Project{}
	s := New(snap)

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("List() len = %d, want 2", len(list))
	}
	if list[0].ID != 1 || list[1].ID != 5 {
		t.Errorf("List() order = %d, %d", list[0].ID, list[1].ID)
	}
	if list[1].Name != "Obra 5" || list[1].Status != schema.StatusActive {
		t.Errorf("List() defaults = %+v", list[1])
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := New(schema.Seed())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = s.Update(1, func(p *schema.Project) error {
				p.Logs = schema.PrependLog(p.Logs, schema.LogEntry{Notes: "x"})
				return nil
			})
		}(i)
		go func() {
			defer wg.Done()
			_ = s.Snapshot()
			_ = s.List()
		}()
	}
	wg.Wait()

	p, _ := s.Get(1)
	if len(p.Logs) != 20 {
		t.Errorf("len(Logs) = %d, want 20", len(p.Logs))
	}
}

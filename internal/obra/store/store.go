// Package store holds the in-memory project map that every other component
// reads from. The store is never empty: removing the last project replaces
// it with a fresh one.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/mschirtzinger/obracontrol/internal/obra/schema"
)

// FallbackProjectName names the project synthesized when the last one is removed.
const FallbackProjectName = "Nueva Obra"

// ErrProjectNotFound is returned when a project id is not in the store.
var ErrProjectNotFound = errors.New("project not found")

// ErrUnknownSection is returned for a section name that does not exist.
var ErrUnknownSection = errors.New("unknown section")

// Section names a replaceable part of a project.
type Section string

const (
	SectionLogs      Section = "logs"
	SectionMaterials Section = "materials"
	SectionStages    Section = "stages"
	SectionTasks     Section = "tasks"
	SectionLabor     Section = "labor"
	SectionFees      Section = "fees"
	SectionGantt     Section = "ganttFile"
)

// Sections lists every replaceable section.
var Sections = []Section{
	SectionLogs, SectionMaterials, SectionStages, SectionTasks,
	SectionLabor, SectionFees, SectionGantt,
}

// Store is a concurrency-safe project map.
type Store struct {
	mu       sync.RWMutex
	projects schema.Snapshot
}

// New creates a store holding a copy of snap. An empty snapshot gets a
// fallback project so the store is never empty.
func New(snap schema.Snapshot) *Store {
	s := &Store{}
	s.Replace(snap)
	return s
}

// Replace swaps the whole dataset.
func (s *Store) Replace(snap schema.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.projects = snap.Clone()
	if s.projects == nil {
		s.projects = make(schema.Snapshot)
	}
	s.ensureNonEmpty()
}

// Snapshot returns a deep copy of the dataset.
func (s *Store) Snapshot() schema.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projects.Clone()
}

// Len returns the number of projects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.projects)
}

// Get returns a copy of the project.
func (s *Store) Get(id schema.ID) (*schema.Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Put stores a copy of p under id, replacing any existing project.
func (s *Store) Put(id schema.ID, p *schema.Project) {
	if p == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[id] = p.Clone()
}

// Remove deletes a project. When it was the last one, a fresh project is
// created and its id returned with created=true.
func (s *Store) Remove(id schema.ID) (replacement schema.ID, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.projects, id)
	return s.ensureNonEmpty()
}

// Update applies fn to a copy of the project and stores the result.
func (s *Store) Update(id schema.ID, fn func(p *schema.Project) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.projects[id]
	if !ok {
		return fmt.Errorf("project %d: %w", id, ErrProjectNotFound)
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return err
	}
	s.projects[id] = next
	return nil
}

// ReplaceSection overwrites one section of a project with a JSON payload.
func (s *Store) ReplaceSection(id schema.ID, section Section, payload json.RawMessage) error {
	return s.Update(id, func(p *schema.Project) error {
		var target any
		switch section {
		case SectionLogs:
			target = &p.Logs
		case SectionMaterials:
			target = &p.Materials
		case SectionStages:
			target = &p.Stages
		case SectionTasks:
			target = &p.Tasks
		case SectionLabor:
			target = &p.Labor
		case SectionFees:
			target = &p.Fees
		case SectionGantt:
			target = &p.GanttFile
		default:
			return fmt.Errorf("%q: %w", section, ErrUnknownSection)
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return fmt.Errorf("failed to decode %s: %w", section, err)
		}
		return nil
	})
}

// List returns project summaries ordered by id.
func (s *Store) List() []schema.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.projects.IDs()
	out := make([]schema.Summary, 0, len(ids))
	for _, id := range ids {
		out = append(out, schema.Summarize(id, s.projects[id]))
	}
	return out
}

// First returns the lowest project id.
func (s *Store) First() schema.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projects.IDs()[0]
}

// Has reports whether id is in the store.
func (s *Store) Has(id schema.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.projects[id]
	return ok
}

// ensureNonEmpty must be called with mu held.
func (s *Store) ensureNonEmpty() (schema.ID, bool) {
	if len(s.projects) > 0 {
		return 0, false
	}
	id := schema.NewID()
	s.projects[id] = schema.NewProject(FallbackProjectName, 0)
	return id, true
}

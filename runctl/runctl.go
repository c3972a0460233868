// Package runctl tracks research runs started through the service
// surfaces. A run executes in its own goroutine; the manager holds its
// status and, once finished, the final state.
package runctl

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/probelab/scrutiny/idgen"
	"github.com/probelab/scrutiny/research"
)

// ResearchFunc executes one research run to completion. Bound to
// research.Orchestrator.Run in production.
type ResearchFunc func(ctx context.Context, company, targetURL, thesis string) (*research.State, error)

// Status of a tracked run.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusError    = "error"
)

// Entry is the tracked view of one run. State is attached only after the
// run goroutine finishes and is immutable from then on.
type Entry struct {
	ID        string    `json:"id"`
	Company   string    `json:"company"`
	TargetURL string    `json:"target_url"`
	Thesis    string    `json:"thesis"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`

	State *research.State `json:"state,omitempty"`
	Err   string          `json:"error,omitempty"`
}

// Manager starts runs and tracks their lifecycle. Safe for concurrent use.
type Manager struct {
	research ResearchFunc
	ids      idgen.Generator
	log      *slog.Logger

	mu   sync.RWMutex
	runs map[string]*Entry
}

func NewManager(research ResearchFunc, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		research: research,
		ids:      idgen.Prefixed("run_", idgen.Default),
		log:      logger,
		runs:     map[string]*Entry{},
	}
}

// Start validates the thesis, launches the run goroutine, and returns a
// snapshot of the new entry. The run outlives the caller's context; the
// orchestrator enforces its own deadline.
func (m *Manager) Start(company, targetURL, thesis string) (Entry, error) {
	if _, err := research.ThesisFor(thesis); err != nil {
		return Entry{}, err
	}

	entry := &Entry{
		ID:        m.ids(),
		Company:   company,
		TargetURL: targetURL,
		Thesis:    thesis,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}
	m.mu.Lock()
	m.runs[entry.ID] = entry
	m.mu.Unlock()

	go func() {
		st, err := m.research(context.Background(), company, targetURL, thesis)
		m.mu.Lock()
		defer m.mu.Unlock()
		entry.State = st
		if err != nil {
			entry.Status = StatusError
			entry.Err = err.Error()
		} else {
			entry.Status = StatusComplete
		}
	}()

	m.log.Info("runctl: run started", "run_id", entry.ID, "company", company, "target", targetURL)
	return *entry, nil
}

// Get snapshots one entry.
func (m *Manager) Get(id string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.runs[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// List snapshots all entries, newest first.
func (m *Manager) List() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]Entry, 0, len(m.runs))
	for _, e := range m.runs {
		list = append(list, *e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].StartedAt.After(list[j].StartedAt) })
	return list
}

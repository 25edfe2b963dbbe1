package strategy

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
)

// Registry owns every monitor. All lifecycle commands from the control plane
// and the emergency controller funnel through it. Monitor workers run under
// the registry's base context, not the caller's, so an API request ending
// does not take a strategy down with it.
type Registry struct {
	base context.Context
	deps Deps

	mu       sync.RWMutex
	monitors map[string]*Monitor
	halted   []string // ids stopped by the last HaltAll that were active
}

func NewRegistry(baseCtx context.Context, deps Deps) *Registry {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Registry{base: baseCtx, deps: deps, monitors: make(map[string]*Monitor)}
}

// Start registers (or reuses) a monitor for the definition and starts it.
func (r *Registry) Start(def Definition) error {
	r.mu.Lock()
	m, ok := r.monitors[def.ID]
	if !ok {
		var err error
		m, err = NewMonitor(def, r.deps)
		if err != nil {
			r.mu.Unlock()
			return err
		}
		r.monitors[def.ID] = m
	}
	r.mu.Unlock()

	if ok {
		if err := m.Update(def); err != nil && m.State() != StateStopped {
			return err
		}
	}
	return m.Start(r.base)
}

// Restart starts an already-registered monitor under the registry's base
// context.
func (r *Registry) Restart(id string) error {
	m, err := r.Get(id)
	if err != nil {
		return err
	}
	return m.Start(r.base)
}

// Get returns the monitor for a strategy id.
func (r *Registry) Get(id string) (*Monitor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.monitors[id]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", id)
	}
	return m, nil
}

// List returns all monitors ordered by strategy id.
func (r *Registry) List() []*Monitor {
	r.mu.RLock()
	out := make([]*Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		out = append(out, m)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Definition().ID < out[j].Definition().ID
	})
	return out
}

// HaltAll stops every monitor; used by the emergency controller and on
// shutdown. It remembers which monitors were active so ResumeHalted can
// bring exactly those back. Position close-out is handled separately by the
// emergency CLOSE_ALL, so errors here are logged and swallowed.
func (r *Registry) HaltAll(reason string) {
	var halted []string
	for _, m := range r.List() {
		id := m.Definition().ID
		switch m.State() {
		case StateRunning, StatePaused:
			halted = append(halted, id)
		}
		if err := m.Stop(); err != nil {
			log.Printf("strategy %s: halt failed: %v", id, err)
			continue
		}
	}
	r.mu.Lock()
	r.halted = halted
	r.mu.Unlock()
	log.Printf("strategy: all monitors halted: %s", reason)
}

// ResumeHalted restarts the monitors the last HaltAll took down. Monitors
// that were already stopped before the halt stay stopped.
func (r *Registry) ResumeHalted(reason string) {
	r.mu.Lock()
	halted := r.halted
	r.halted = nil
	r.mu.Unlock()

	for _, id := range halted {
		m, err := r.Get(id)
		if err != nil {
			continue
		}
		if err := m.Start(r.base); err != nil {
			log.Printf("strategy %s: resume failed: %v", id, err)
		}
	}
	if len(halted) > 0 {
		log.Printf("strategy: %d monitor(s) resumed: %s", len(halted), reason)
	}
}

// ActiveCount reports monitors currently Running or Paused.
func (r *Registry) ActiveCount() int {
	n := 0
	for _, m := range r.List() {
		switch m.State() {
		case StateRunning, StatePaused:
			n++
		}
	}
	return n
}

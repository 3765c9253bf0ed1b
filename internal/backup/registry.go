package backup

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Loader builds the current set of agents.
type Loader func() ([]Agent, error)

// Registry is the host-side view of available agents. It rebuilds its set
// from the loader every time Reload is called, typically from a listener
// registered on Listeners.
type Registry struct {
	load Loader

	mu     sync.RWMutex
	agents map[string]Agent
	err    error
}

// NewRegistry returns an empty registry; call Reload to populate it.
func NewRegistry(load Loader) *Registry {
	return &Registry{load: load, agents: map[string]Agent{}}
}

// Reload re-enumerates agents. A loader failure keeps the previous set and
// is reported by Err.
func (r *Registry) Reload() {
	agents, err := r.load()
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.err = err
		log.Error().Err(err).Str("action", "agents_reload").Msg("loading backup agents failed")
		return
	}
	next := make(map[string]Agent, len(agents))
	for _, a := range agents {
		next[a.Info().AgentID()] = a
	}
	r.agents = next
	r.err = nil
	log.Debug().Str("action", "agents_reload").Int("agents", len(next)).Msg("backup agents reloaded")
}

// Err returns the error from the last Reload, if any.
func (r *Registry) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// Get returns the agent registered under agentID.
func (r *Registry) Get(agentID string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("backup agent not found: %s", agentID)
	}
	return a, nil
}

// IDs returns the registered agent ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

package plugins

import (
	"fmt"
	"strings"
	"sync"

	"boorusync/internal/logger"
	"boorusync/internal/session"
)

// Query selects a plugin. Selection order is fixed: a domain match wins
// over a category match, which wins over an exact name match.
type Query struct {
	Name     string
	Domain   string
	Category string
}

func (q Query) String() string {
	return fmt.Sprintf("name=%s domain=%s category=%s", q.Name, q.Domain, q.Category)
}

// Registry holds the registered plugins and initializes them on first
// selection.
type Registry struct {
	session *session.Session
	configs map[string]map[string]any

	mu          sync.Mutex
	plugins     []Plugin
	memo        map[string]Plugin
	initialized map[string]bool
}

// NewRegistry creates a registry. The session is bound into API plugins
// and configs maps plugin names to their option blocks.
func NewRegistry(s *session.Session, configs map[string]map[string]any) *Registry {
	return &Registry{
		session:     s,
		configs:     configs,
		memo:        map[string]Plugin{},
		initialized: map[string]bool{},
	}
}

// Register adds a plugin. Registration order decides ties during
// lookup.
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = append(r.plugins, p)
}

// Find selects the first plugin matching the query and initializes it.
func (r *Registry) Find(q Query) (Plugin, error) {
	return r.find("any", q, func(Plugin) bool { return true })
}

// FindSource selects a metadata plugin for the query.
func (r *Registry) FindSource(q Query) (MetadataPlugin, error) {
	p, err := r.find("source", q, func(p Plugin) bool {
		_, ok := p.(MetadataPlugin)
		return ok
	})
	if err != nil {
		return nil, err
	}
	return p.(MetadataPlugin), nil
}

// FindDestination selects a destination plugin for the query.
func (r *Registry) FindDestination(q Query) (DestinationPlugin, error) {
	p, err := r.find("destination", q, func(p Plugin) bool {
		_, ok := p.(DestinationPlugin)
		return ok
	})
	if err != nil {
		return nil, err
	}
	return p.(DestinationPlugin), nil
}

// Validators returns every registered validation plugin.
func (r *Registry) Validators() []ValidationPlugin {
	r.mu.Lock()
	defer r.mu.Unlock()

	var validators []ValidationPlugin
	for _, p := range r.plugins {
		if v, ok := p.(ValidationPlugin); ok {
			validators = append(validators, v)
		}
	}
	return validators
}

// Sources returns every registered metadata plugin.
func (r *Registry) Sources() []MetadataPlugin {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sources []MetadataPlugin
	for _, p := range r.plugins {
		if m, ok := p.(MetadataPlugin); ok {
			sources = append(sources, m)
		}
	}
	return sources
}

// All returns every registered plugin in registration order.
func (r *Registry) All() []Plugin {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Plugin(nil), r.plugins...)
}

func (r *Registry) find(kind string, q Query, matches func(Plugin) bool) (Plugin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := kind + "|" + q.Name + "|" + q.Domain + "|" + q.Category
	if p, ok := r.memo[key]; ok {
		return p, nil
	}

	p := r.selectLocked(q, matches)
	if p == nil {
		return nil, fmt.Errorf("no %s plugin matched query %s", kind, q)
	}

	if err := r.initializeLocked(p); err != nil {
		return nil, err
	}

	r.memo[key] = p
	return p, nil
}

// selectLocked applies the selection order: domain substring, then
// category, then exact name.
func (r *Registry) selectLocked(q Query, matches func(Plugin) bool) Plugin {
	if q.Domain != "" {
		for _, p := range r.plugins {
			if !matches(p) {
				continue
			}
			for _, entry := range p.Attributes().Domains {
				if strings.Contains(entry, q.Domain) {
					return p
				}
			}
		}
	}

	if q.Category != "" {
		for _, p := range r.plugins {
			if !matches(p) {
				continue
			}
			for _, category := range p.Attributes().Categories {
				if category == q.Category {
					return p
				}
			}
		}
	}

	if q.Name != "" {
		for _, p := range r.plugins {
			if matches(p) && p.Attributes().Name == q.Name {
				return p
			}
		}
	}

	return nil
}

// Initialize binds the shared session into API plugins and injects the
// plugin's configuration block. Safe to call more than once.
func (r *Registry) Initialize(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initializeLocked(p)
}

func (r *Registry) initializeLocked(p Plugin) error {
	name := p.Attributes().Name
	if r.initialized[name] {
		return nil
	}

	if api, ok := p.(APIPlugin); ok && r.session != nil {
		api.Bind(r.session)
	}

	if aware, ok := p.(ValidatorAware); ok {
		var validators []ValidationPlugin
		for _, candidate := range r.plugins {
			if v, ok := candidate.(ValidationPlugin); ok {
				validators = append(validators, v)
			}
		}
		aware.BindValidators(validators)
	}

	if configurable, ok := p.(Configurable); ok {
		block := r.configs[name]
		if block == nil {
			block = map[string]any{}
		}
		if err := configurable.Configure(block); err != nil {
			return fmt.Errorf("failed to configure plugin %s: %w", name, err)
		}
	}

	logger.Debug("initialized plugin", "plugin", name)
	r.initialized[name] = true
	return nil
}

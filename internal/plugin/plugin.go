// Package plugin implements the per-session Plugin Manager (C15): an
// ordered registry of lifecycle hooks invoked at well-defined points in a
// session's life. Hooks run in registration order and are always awaited;
// a hook that errors is logged and aggregated, never allowed to stop a
// later hook from running (spec §4.14/§7 "Plugin failure").
package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/sessionagent/runtime/internal/agentcap"
)

// Hooks is the set of lifecycle callbacks a plugin may implement. Every
// field is optional; a Manager skips nil hooks. A hook returns an error
// instead of panicking so that a faulty plugin stays registered rather
// than taking down the session (spec §4.14: "a plugin that throws is
// logged, not killed").
type Hooks struct {
	OnRegister           func(ctx context.Context, agent agentcap.Capabilities) error
	OnUnregister         func(ctx context.Context, agent agentcap.Capabilities) error
	OnInitialize         func(ctx context.Context, agent agentcap.Capabilities) error
	BeforeFilesGenerated func(ctx context.Context, agent agentcap.Capabilities, phaseName string, concepts any) error
	AfterFilesGenerated  func(ctx context.Context, agent agentcap.Capabilities, phaseName string, outputs any) error
	BeforeDeployment     func(ctx context.Context, agent agentcap.Capabilities) error
	AfterDeployment      func(ctx context.Context, agent agentcap.Capabilities, previewURL string) error
	OnGenerationStart    func(ctx context.Context, agent agentcap.Capabilities) error
	OnGenerationComplete func(ctx context.Context, agent agentcap.Capabilities) error
	OnError              func(ctx context.Context, agent agentcap.Capabilities, cause error, errContext string) error
	OnStateUpdate        func(ctx context.Context, agent agentcap.Capabilities, oldState, newState any) error
}

// Plugin is a named set of hooks. Duplicate registration by Name is a
// no-op with a warning (spec §4.14).
type Plugin struct {
	Name  string
	Hooks Hooks
}

// Manager holds the plugins registered for one session, in registration
// order. There are no global hooks (spec §4.14: "Hooks are per-session").
type Manager struct {
	mu      sync.RWMutex
	order   []string
	plugins map[string]Plugin
	agent   agentcap.Capabilities
	logger  zerolog.Logger
}

// NewManager creates a plugin manager bound to one session's capability
// surface, used as the `agent` argument passed to every hook.
func NewManager(agent agentcap.Capabilities, logger zerolog.Logger) *Manager {
	return &Manager{
		plugins: make(map[string]Plugin),
		agent:   agent,
		logger:  logger,
	}
}

// Register adds a plugin, running its OnRegister hook if present.
// Registering a name that's already present is a no-op logged as a
// warning; it does not replace the existing plugin or call any hook.
func (m *Manager) Register(ctx context.Context, p Plugin) error {
	m.mu.Lock()
	if _, exists := m.plugins[p.Name]; exists {
		m.mu.Unlock()
		m.logger.Warn().Str("plugin", p.Name).Msg("duplicate plugin registration ignored")
		return nil
	}
	m.plugins[p.Name] = p
	m.order = append(m.order, p.Name)
	m.mu.Unlock()

	if p.Hooks.OnRegister == nil {
		return nil
	}
	if err := p.Hooks.OnRegister(ctx, m.agent); err != nil {
		m.logHookError(p.Name, "onRegister", err)
		return err
	}
	return nil
}

// Unregister removes a plugin by name, running its OnUnregister hook
// first if present. Unregistering an unknown name is a no-op.
func (m *Manager) Unregister(ctx context.Context, name string) {
	m.mu.Lock()
	p, exists := m.plugins[name]
	if !exists {
		m.mu.Unlock()
		return
	}
	delete(m.plugins, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	if p.Hooks.OnUnregister != nil {
		if err := p.Hooks.OnUnregister(ctx, m.agent); err != nil {
			m.logHookError(name, "onUnregister", err)
		}
	}
}

// Names returns registered plugin names in registration order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}

func (m *Manager) ordered() []Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Plugin, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.plugins[name])
	}
	return out
}

func (m *Manager) logHookError(plugin, hook string, err error) {
	m.logger.Error().Err(err).Str("plugin", plugin).Str("hook", hook).Msg("plugin hook failed")
}

// runAll awaits hook for every registered plugin, in registration order,
// collecting failures rather than stopping at the first one.
func (m *Manager) runAll(hookName string, hook func(p Plugin) error) error {
	var agg *multierror.Error
	for _, p := range m.ordered() {
		if err := hook(p); err != nil {
			m.logHookError(p.Name, hookName, err)
			agg = multierror.Append(agg, fmt.Errorf("%s: %w", p.Name, err))
		}
	}
	if agg == nil {
		return nil
	}
	return agg.ErrorOrNil()
}

func (m *Manager) OnInitialize(ctx context.Context) error {
	return m.runAll("onInitialize", func(p Plugin) error {
		if p.Hooks.OnInitialize == nil {
			return nil
		}
		return p.Hooks.OnInitialize(ctx, m.agent)
	})
}

func (m *Manager) BeforeFilesGenerated(ctx context.Context, phaseName string, concepts any) error {
	return m.runAll("beforeFilesGenerated", func(p Plugin) error {
		if p.Hooks.BeforeFilesGenerated == nil {
			return nil
		}
		return p.Hooks.BeforeFilesGenerated(ctx, m.agent, phaseName, concepts)
	})
}

func (m *Manager) AfterFilesGenerated(ctx context.Context, phaseName string, outputs any) error {
	return m.runAll("afterFilesGenerated", func(p Plugin) error {
		if p.Hooks.AfterFilesGenerated == nil {
			return nil
		}
		return p.Hooks.AfterFilesGenerated(ctx, m.agent, phaseName, outputs)
	})
}

func (m *Manager) BeforeDeployment(ctx context.Context) error {
	return m.runAll("beforeDeployment", func(p Plugin) error {
		if p.Hooks.BeforeDeployment == nil {
			return nil
		}
		return p.Hooks.BeforeDeployment(ctx, m.agent)
	})
}

func (m *Manager) AfterDeployment(ctx context.Context, previewURL string) error {
	return m.runAll("afterDeployment", func(p Plugin) error {
		if p.Hooks.AfterDeployment == nil {
			return nil
		}
		return p.Hooks.AfterDeployment(ctx, m.agent, previewURL)
	})
}

func (m *Manager) OnGenerationStart(ctx context.Context) error {
	return m.runAll("onGenerationStart", func(p Plugin) error {
		if p.Hooks.OnGenerationStart == nil {
			return nil
		}
		return p.Hooks.OnGenerationStart(ctx, m.agent)
	})
}

func (m *Manager) OnGenerationComplete(ctx context.Context) error {
	return m.runAll("onGenerationComplete", func(p Plugin) error {
		if p.Hooks.OnGenerationComplete == nil {
			return nil
		}
		return p.Hooks.OnGenerationComplete(ctx, m.agent)
	})
}

func (m *Manager) OnError(ctx context.Context, cause error, errContext string) error {
	return m.runAll("onError", func(p Plugin) error {
		if p.Hooks.OnError == nil {
			return nil
		}
		return p.Hooks.OnError(ctx, m.agent, cause, errContext)
	})
}

func (m *Manager) OnStateUpdate(ctx context.Context, oldState, newState any) error {
	return m.runAll("onStateUpdate", func(p Plugin) error {
		if p.Hooks.OnStateUpdate == nil {
			return nil
		}
		return p.Hooks.OnStateUpdate(ctx, m.agent, oldState, newState)
	})
}

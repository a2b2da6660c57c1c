package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ent0n29/clawboard/internal/realtime"
	"github.com/ent0n29/clawboard/internal/store"
)

const keyPrefix = "clawboard:task:"

// Key is the provider conversation identity for a task. It never changes for
// the lifetime of the task.
func Key(taskID string) string {
	return keyPrefix + taskID
}

// Manager owns the task_sessions rows. There is at most one session per task
// and it is updated in place.
type Manager struct {
	db             *store.DB
	publisher      realtime.Publisher
	defaultAgentID string
	logger         *slog.Logger
}

func NewManager(db *store.DB, publisher realtime.Publisher, defaultAgentID string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		db:             db,
		publisher:      publisher,
		defaultAgentID: strings.TrimSpace(defaultAgentID),
		logger:         logger,
	}
}

// Ensure returns the task's session, creating it on first use. A non-empty
// agentID must name a known agent and rebinds the session when it differs.
func (m *Manager) Ensure(ctx context.Context, taskID, agentID string) (store.TaskSession, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID != "" {
		if _, err := m.db.GetAgent(ctx, agentID); err != nil {
			return store.TaskSession{}, fmt.Errorf("agent %q: %w", agentID, err)
		}
	}
	sess, changed, err := m.db.EnsureSession(ctx, taskID, agentID, Key(taskID))
	if err != nil {
		return store.TaskSession{}, err
	}
	if changed {
		m.logger.Info("task session bound", "task_id", taskID, "agent_id", sess.AgentID)
		m.publish(sess)
	}
	return sess, nil
}

func (m *Manager) Get(ctx context.Context, taskID string) (store.TaskSession, error) {
	return m.db.GetSession(ctx, taskID)
}

// ResolveAgent picks the agent for a run: the explicit id, then the agent
// bound to the session, then the configured default, then the first enabled
// agent. It returns nil when no agent exists at all.
func (m *Manager) ResolveAgent(ctx context.Context, sess store.TaskSession, explicit string) (*store.Agent, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		a, err := m.db.GetAgent(ctx, explicit)
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", explicit, err)
		}
		return &a, nil
	}

	for _, candidate := range []struct{ source, id string }{
		{"session", sess.AgentID},
		{"default", m.defaultAgentID},
	} {
		if candidate.id == "" {
			continue
		}
		a, err := m.db.GetAgent(ctx, candidate.id)
		if err == nil {
			return &a, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		m.logger.Warn("agent not found, falling back", "source", candidate.source, "agent_id", candidate.id)
	}

	a, err := m.db.FirstEnabledAgent(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (m *Manager) MarkRunning(ctx context.Context, taskID string) error {
	return m.setStatus(ctx, taskID, store.SessionStatusRunning, "")
}

// Finish records the concluded run and returns the session to idle.
func (m *Manager) Finish(ctx context.Context, taskID, runID string) error {
	return m.setStatus(ctx, taskID, store.SessionStatusIdle, runID)
}

func (m *Manager) setStatus(ctx context.Context, taskID string, status store.SessionStatus, runID string) error {
	if err := m.db.SetSessionStatus(ctx, taskID, status, runID); err != nil {
		return err
	}
	sess, err := m.db.GetSession(ctx, taskID)
	if err != nil {
		return err
	}
	m.publish(sess)
	return nil
}

func (m *Manager) publish(sess store.TaskSession) {
	if m.publisher == nil {
		return
	}
	m.publisher.Publish(realtime.EventSessionChanged, map[string]any{
		"task_id": sess.TaskID,
		"session": sess,
	})
}

package agents

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ent0n29/clawboard/internal/store"
)

// fileAgent is one entry of the agents file:
//
//	agents:
//	  - id: builder
//	    external_id: main
//	    display_name: Builder
//	    enabled: true
type fileAgent struct {
	ID          string `yaml:"id"`
	ExternalID  string `yaml:"external_id"`
	DisplayName string `yaml:"display_name"`
	Enabled     *bool  `yaml:"enabled"`
	Position    *int   `yaml:"position"`
}

type agentsFile struct {
	Agents []fileAgent `yaml:"agents"`
}

type Upserter interface {
	UpsertAgent(ctx context.Context, a store.Agent) (store.Agent, error)
}

func LoadFile(path string) ([]store.Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}
	return Parse(data)
}

// Parse decodes the agents file. An entry without id falls back to its
// external_id so reloads update rows in place. Enabled defaults to true and
// position to the entry's index.
func Parse(data []byte) ([]store.Agent, error) {
	var f agentsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse agents file: %w", err)
	}
	out := make([]store.Agent, 0, len(f.Agents))
	seen := make(map[string]struct{}, len(f.Agents))
	for i, a := range f.Agents {
		id := strings.TrimSpace(a.ID)
		if id == "" {
			id = strings.TrimSpace(a.ExternalID)
		}
		if id == "" {
			return nil, fmt.Errorf("agents[%d]: id or external_id is required", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("agents[%d]: duplicate id %q", i, id)
		}
		seen[id] = struct{}{}

		name := strings.TrimSpace(a.DisplayName)
		if name == "" {
			name = id
		}
		enabled := true
		if a.Enabled != nil {
			enabled = *a.Enabled
		}
		position := i
		if a.Position != nil {
			position = *a.Position
		}
		out = append(out, store.Agent{
			ID:          id,
			ExternalID:  strings.TrimSpace(a.ExternalID),
			DisplayName: name,
			Enabled:     enabled,
			Position:    position,
		})
	}
	return out, nil
}

// Seed upserts every agent and returns how many were written.
func Seed(ctx context.Context, db Upserter, agents []store.Agent) (int, error) {
	for i, a := range agents {
		if _, err := db.UpsertAgent(ctx, a); err != nil {
			return i, fmt.Errorf("seed agent %q: %w", a.ID, err)
		}
	}
	return len(agents), nil
}

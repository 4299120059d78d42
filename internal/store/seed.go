package store

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedAgent is one agent entry in the YAML seed file. The seed file
// replaces the admin interface for bootstrapping agent configuration:
// agents listed there are created on first run and updated on later
// runs, matched by name.
type SeedAgent struct {
	Name             string  `yaml:"name"`
	Model            string  `yaml:"model"`
	APIKey           string  `yaml:"api_key"`
	EngagementFactor float64 `yaml:"engagement_factor"`
	Context          string  `yaml:"context"`
}

type seedFile struct {
	Agents []SeedAgent `yaml:"agents"`
}

// SeedAgents loads agent definitions from a YAML file and upserts them.
// A missing file is not an error: seeding is optional.
func SeedAgents(ctx context.Context, s Store, path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}

	count := 0
	for _, sa := range seed.Agents {
		if sa.Name == "" {
			return count, fmt.Errorf("seed file %s: agent entry without a name", path)
		}
		if err := ValidateEngagementFactor(sa.EngagementFactor); err != nil {
			return count, fmt.Errorf("seed file %s: agent %q: %w", path, sa.Name, err)
		}

		agent := &Agent{
			Name:             sa.Name,
			Model:            sa.Model,
			APIKey:           sa.APIKey,
			EngagementFactor: sa.EngagementFactor,
			Context:          sa.Context,
			Active:           true,
		}

		// Match by name so reseeding updates instead of duplicating.
		if existing, err := findAgentByName(ctx, s, sa.Name); err == nil {
			agent.ID = existing.ID
			agent.LinkedChatID = existing.LinkedChatID
			agent.LinkedAt = existing.LinkedAt
			agent.DocSummaries = existing.DocSummaries
			agent.CreatedAt = existing.CreatedAt
		} else if err != ErrNotFound {
			return count, err
		}

		if err := s.UpsertAgent(ctx, agent); err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}

func findAgentByName(ctx context.Context, s Store, name string) (*Agent, error) {
	db, ok := s.(*DB)
	if !ok {
		return nil, ErrNotFound
	}
	var agent Agent
	err := db.db.WithContext(ctx).First(&agent, "name = ?", name).Error
	if err != nil {
		return nil, ErrNotFound
	}
	return &agent, nil
}

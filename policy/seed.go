// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"apikeyrouter/domain"
)

// seedPolicy is the on-disk YAML shape for a statically configured policy,
// mirroring LLMRouterConfig's use of yaml.v3 for deployment configuration.
type seedPolicy struct {
	ID       string                 `yaml:"id"`
	Type     string                 `yaml:"type"`
	Scope    string                 `yaml:"scope"`
	ScopeID  string                 `yaml:"scope_id"`
	Rules    map[string]interface{} `yaml:"rules"`
	Priority int                    `yaml:"priority"`
	Enabled  bool                   `yaml:"enabled"`
}

type seedFile struct {
	Policies []seedPolicy `yaml:"policies"`
}

// LoadSeed reads a YAML policy file and registers every entry with e.
func (e *Engine) LoadSeed(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("policy: reading seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("policy: parsing seed file: %w", err)
	}
	now := time.Now().UTC()
	for _, sp := range seed.Policies {
		e.AddPolicy(&domain.Policy{
			ID:        sp.ID,
			Type:      domain.PolicyType(sp.Type),
			Scope:     sp.Scope,
			ScopeID:   sp.ScopeID,
			Rules:     sp.Rules,
			Priority:  sp.Priority,
			Enabled:   sp.Enabled,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return nil
}

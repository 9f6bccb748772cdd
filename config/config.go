/*
Package config provides reward.ConfigStore implementations.

PURPOSE:
  The reward configuration is a single YAML document treated as shared
  mutable state: the engine re-reads it before processing and the
  rebalancer writes the new coefficient back. FileStore keeps it on disk;
  MemoryStore backs tests without file I/O.

ROUND-TRIP:
  Save output is deterministic struct marshaling, so load -> save -> load
  reproduces the document exactly apart from intentional edits (the
  rebalanced coefficient).

SEE ALSO:
  - reward/config.go: Document types and validation
  - reward/rebalance.go: The only writer
*/
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mindleap/reward-engine/reward"
)

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore loads and saves the configuration document at a fixed path.
type FileStore struct {
	Path string

	mu sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load reads and validates the document. A missing or unparsable file is a
// configuration error: the process must refuse to serve reward traffic.
func (s *FileStore) Load(_ context.Context) (*reward.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("reading reward config %s: %w", s.Path, err)
	}

	var cfg reward.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing reward config %s: %w", s.Path, err)
	}
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the document back atomically (temp file + rename).
func (s *FileStore) Save(_ context.Context, cfg *reward.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling reward config: %w", err)
	}

	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, ".reward-config-*")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp config: %w", err)
	}
	return os.Rename(tmp.Name(), s.Path)
}

// normalize fills rule action ids omitted in the document (the map key is
// authoritative).
func normalize(cfg *reward.Config) {
	for id, rule := range cfg.Rewards {
		if rule.ActionID == "" {
			rule.ActionID = id
			cfg.Rewards[id] = rule
		}
	}
}

// =============================================================================
// MEMORY STORE
// =============================================================================

// MemoryStore holds the document in memory. Load returns a deep copy so
// callers cannot mutate shared state between loads.
type MemoryStore struct {
	mu  sync.RWMutex
	cfg *reward.Config
}

func NewMemoryStore(cfg *reward.Config) *MemoryStore {
	return &MemoryStore{cfg: clone(cfg)}
}

func (s *MemoryStore) Load(_ context.Context) (*reward.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cfg == nil {
		return nil, fmt.Errorf("%w: no configuration loaded", reward.ErrConfigInvalid)
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	return clone(s.cfg), nil
}

func (s *MemoryStore) Save(_ context.Context, cfg *reward.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = clone(cfg)
	return nil
}

func clone(cfg *reward.Config) *reward.Config {
	if cfg == nil {
		return nil
	}
	out := *cfg
	out.Rewards = make(map[reward.ActionID]reward.RewardRule, len(cfg.Rewards))
	for id, rule := range cfg.Rewards {
		if rule.DailyCap != nil {
			capCopy := *rule.DailyCap
			rule.DailyCap = &capCopy
		}
		out.Rewards[id] = rule
	}
	return &out
}

var _ reward.ConfigStore = (*FileStore)(nil)
var _ reward.ConfigStore = (*MemoryStore)(nil)

// Copyright 2024 The TabletDB Authors
// SPDX-License-Identifier: Apache-2.0

package allocator

import (
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v2"
)

// DefaultTargetTabletSize is the size the planner steers the average
// tablet towards. A table splits once its average tablet grows past
// twice this, and merges once it shrinks under half of it.
const DefaultTargetTabletSize = 5 << 30 // 5 GiB

// DefaultMaxPlanSize bounds the number of migrations emitted per
// planning round. The executor loops rounds until the plan is empty,
// so the bound trades plan latency against round count, not
// completeness.
const DefaultMaxPlanSize = 32

// Settings configures the allocator.
type Settings struct {
	// TargetTabletSize is the steady-state average tablet size in
	// bytes.
	TargetTabletSize uint64 `yaml:"target_tablet_size"`
	// MaxPlanSize caps migrations per round.
	MaxPlanSize int `yaml:"max_plan_size"`
	// Shuffle forces migrations even when the cluster already looks
	// balanced. It exists to validate that planning logic, not
	// convergence heuristics, halts the executor loop. Never enable in
	// production.
	Shuffle bool `yaml:"shuffle"`
}

// DefaultSettings returns production defaults.
func DefaultSettings() Settings {
	return Settings{
		TargetTabletSize: DefaultTargetTabletSize,
		MaxPlanSize:      DefaultMaxPlanSize,
	}
}

// LoadSettings parses YAML over the defaults.
func LoadSettings(data []byte) (Settings, error) {
	s := DefaultSettings()
	if err := yaml.UnmarshalStrict(data, &s); err != nil {
		return Settings{}, errors.Wrap(err, "parsing allocator settings")
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate rejects unusable settings.
func (s Settings) Validate() error {
	if s.TargetTabletSize == 0 {
		return errors.New("target_tablet_size must be positive")
	}
	if s.MaxPlanSize <= 0 {
		return errors.New("max_plan_size must be positive")
	}
	return nil
}

// splitThreshold is the average tablet size above which a table
// splits.
func (s Settings) splitThreshold() uint64 {
	return 2 * s.TargetTabletSize
}

// mergeThreshold is the average tablet size below which a table
// merges.
func (s Settings) mergeThreshold() uint64 {
	return s.TargetTabletSize / 2
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package detect

import (
	"fmt"

	"github.com/AleutianAI/AleutianProv/services/provenance/cluster"
	"github.com/AleutianAI/AleutianProv/services/provenance/distance"
	"github.com/AleutianAI/AleutianProv/services/provenance/engine"
	"github.com/AleutianAI/AleutianProv/services/provenance/profile"
)

// Defaults for Config.
const (
	DefaultIterations      = 4
	DefaultRetainThreshold = 0.2
	DefaultLoadConcurrency = 4
)

// Config controls learning and classification.
type Config struct {
	// Iterations is the relabeling budget per graph.
	Iterations int `yaml:"iterations" validate:"gte=2"`

	// RetainThreshold keeps clusters whose size exceeds this fraction of
	// the learning set.
	RetainThreshold float64 `yaml:"retain_threshold" validate:"gt=0,lt=1"`

	// Policy combines the per-cluster radius checks. "all" or "any".
	Policy profile.Policy `yaml:"policy" validate:"oneof=all any"`

	// Method is the distance measure: "kl", "hellinger" or "euclidean".
	Method string `yaml:"method" validate:"oneof=kl hellinger euclidean"`

	// Seed fixes the prior clustering draws. 0 seeds from the runtime.
	Seed uint64 `yaml:"seed"`

	// LoadConcurrency bounds how many learning graphs are parsed at once.
	LoadConcurrency int `yaml:"load_concurrency" validate:"gte=1"`

	// Cluster bounds the K-means loops.
	Cluster cluster.Config `yaml:"cluster"`

	// Engine configures the vertex-parallel graph engine.
	Engine engine.Config `yaml:"engine"`
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Iterations:      DefaultIterations,
		RetainThreshold: DefaultRetainThreshold,
		Policy:          profile.PolicyAll,
		Method:          distance.KullbackLeibler.String(),
		LoadConcurrency: DefaultLoadConcurrency,
		Cluster:         cluster.DefaultConfig(),
		Engine:          engine.DefaultConfig(),
	}
}

// validate fills zero fields with defaults and checks ranges.
func (c *Config) validate() error {
	d := DefaultConfig()
	if c.Iterations == 0 {
		c.Iterations = d.Iterations
	}
	if c.RetainThreshold == 0 {
		c.RetainThreshold = d.RetainThreshold
	}
	if c.Method == "" {
		c.Method = d.Method
	}
	if c.LoadConcurrency <= 0 {
		c.LoadConcurrency = d.LoadConcurrency
	}
	if c.Cluster.MaxIterations <= 0 {
		c.Cluster.MaxIterations = d.Cluster.MaxIterations
	}

	if c.Iterations < 2 {
		return fmt.Errorf("%w: iterations %d < 2", ErrInvalidConfig, c.Iterations)
	}
	if c.RetainThreshold <= 0 || c.RetainThreshold >= 1 {
		return fmt.Errorf("%w: retain threshold %v outside (0,1)", ErrInvalidConfig, c.RetainThreshold)
	}
	policy, err := profile.ParsePolicy(string(c.Policy))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	c.Policy = policy

	method, err := distance.ParseMethod(c.Method)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	c.Method = method.String()
	c.Cluster.Method = method
	return nil
}

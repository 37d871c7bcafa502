// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/segtree/pkg/segtree"
	"github.com/AleutianAI/segtree/pkg/telemetry"
)

var validate = validator.New()

// Config is the CLI configuration file.
type Config struct {
	Log       LogConfig        `yaml:"log"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// LogConfig configures pkg/logging for the CLI.
type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Log:       LogConfig{Level: "warn"},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// LoadConfig reads a YAML config over the defaults. An empty path returns
// the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read the config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Operation kinds accepted in a plan.
const (
	OpQuery  = "query"
	OpUpdate = "update"
	OpGet    = "get"
)

// Plan is a scripted sequence of operations against one tree.
//
//	aggregate: min
//	data: [1, 3, 5, 7, 9, 11]
//	operations:
//	  - {op: query, left: 1, right: 4}
//	  - {op: update, index: 2, value: 10}
//	  - {op: get, index: 2}
type Plan struct {
	Aggregate  string      `yaml:"aggregate" validate:"required"`
	Data       []float64   `yaml:"data"`
	Operations []Operation `yaml:"operations" validate:"required,min=1,dive"`
}

// Operation is one step of a Plan. Fields not used by Op are ignored.
type Operation struct {
	Op    string   `yaml:"op" validate:"required,oneof=query update get"`
	Left  *int     `yaml:"left" validate:"required_if=Op query"`
	Right *int     `yaml:"right" validate:"required_if=Op query"`
	Index *int     `yaml:"index" validate:"required_if=Op update,required_if=Op get"`
	Value *float64 `yaml:"value" validate:"required_if=Op update"`
}

// LoadPlan reads and validates a plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	return ParsePlan(data)
}

// ParsePlan decodes and validates a YAML plan.
func ParsePlan(data []byte) (*Plan, error) {
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if err := validate.Struct(plan); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("invalid plan: field %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	if _, err := segtree.ParseAggregateFunc(plan.Aggregate); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	return &plan, nil
}

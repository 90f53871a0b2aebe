package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/browsepilot/pkg/types"
)

// TaskFile is the YAML form of a task run from the command line.
//
//	goal: Find the monthly price of the Pro plan
//	start_url: https://example.com
//	max_steps: 8
//	timeout: 5m
//	keep_session_open: false
//	variables:
//	  email: me@example.com
//	extraction_schema:
//	  kind: object
//	  fields:
//	    - name: price
//	      type: number
type TaskFile struct {
	types.Task `yaml:",inline"`

	Timeout         time.Duration `yaml:"timeout"`
	KeepSessionOpen bool          `yaml:"keep_session_open"`
	AllowedURLs     []string      `yaml:"allowed_urls"`
}

// loadTaskFile reads a YAML task file.
func loadTaskFile(path string) (*TaskFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}

	tf := &TaskFile{}
	if err := yaml.Unmarshal(data, tf); err != nil {
		return nil, fmt.Errorf("failed to parse task file: %w", err)
	}
	return tf, nil
}

// loadTask builds the task from the task file when given, then applies the
// inline flags on top. Flags win over the file.
func loadTask(cli *CLIConfig) (*TaskFile, error) {
	tf := &TaskFile{}
	if cli.ConfigFile != "" {
		loaded, err := loadTaskFile(cli.ConfigFile)
		if err != nil {
			return nil, err
		}
		tf = loaded
	}

	if cli.Goal != "" {
		tf.Goal = cli.Goal
	}
	if cli.StartURL != "" {
		tf.StartURL = cli.StartURL
	}
	if cli.MaxSteps > 0 {
		tf.MaxSteps = cli.MaxSteps
	}
	if cli.Timeout > 0 {
		tf.Timeout = cli.Timeout
	}
	if cli.KeepSessionOpen {
		tf.KeepSessionOpen = true
	}
	if len(cli.Variables) > 0 {
		if tf.Variables == nil {
			tf.Variables = make(map[string]string, len(cli.Variables))
		}
		for k, v := range cli.Variables {
			tf.Variables[k] = v
		}
	}

	if tf.Goal == "" {
		return nil, fmt.Errorf("goal is required when not using a task file")
	}
	if err := tf.Task.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}
	return tf, nil
}

// varFlags collects repeated -var name=value flags.
type varFlags map[string]string

func (v varFlags) String() string {
	names := make([]string, 0, len(v))
	for k := range v {
		names = append(names, k)
	}
	sort.Strings(names)
	// Values are secrets; only names are shown.
	return strings.Join(names, ",")
}

func (v varFlags) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	v[name] = value
	return nil
}

// Package jobfile loads cron job definitions from YAML.
package jobfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"cronguard/internal/core"
)

// Definition is one job entry of a jobs file.
type Definition struct {
	Name                    string  `yaml:"name"`
	Handler                 string  `yaml:"handler"`
	Command                 *string `yaml:"command,omitempty"`
	WorkingDir              *string `yaml:"working_dir,omitempty"`
	TimeoutSeconds          *int    `yaml:"timeout_seconds,omitempty"`
	IntervalMinutes         int     `yaml:"interval_minutes"`
	StaleLockTimeoutMinutes int     `yaml:"stale_lock_timeout_minutes"`
	Active                  *bool   `yaml:"active,omitempty"`
}

// File is the top-level document.
type File struct {
	Jobs []Definition `yaml:"jobs"`
}

// Upserter stores a job definition by name.
type Upserter interface {
	UpsertJob(ctx context.Context, job *core.Job) error
}

// Load reads and validates the jobs file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jobs file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates a jobs document. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode jobs file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks required fields, numeric ranges and name uniqueness.
func (f *File) Validate() error {
	seen := make(map[string]struct{}, len(f.Jobs))
	for i, def := range f.Jobs {
		name := strings.TrimSpace(def.Name)
		switch {
		case name == "":
			return fmt.Errorf("jobs[%d]: name is required", i)
		case strings.TrimSpace(def.Handler) == "":
			return fmt.Errorf("job %q: handler is required", name)
		case def.IntervalMinutes < 0:
			return fmt.Errorf("job %q: interval_minutes must be non-negative", name)
		case def.StaleLockTimeoutMinutes < 0:
			return fmt.Errorf("job %q: stale_lock_timeout_minutes must be non-negative", name)
		case def.TimeoutSeconds != nil && *def.TimeoutSeconds < 0:
			return fmt.Errorf("job %q: timeout_seconds must be non-negative", name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("job %q: duplicate name", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// Job converts a definition to a job record. Jobs are active unless the file
// says otherwise.
func (d Definition) Job() *core.Job {
	active := true
	if d.Active != nil {
		active = *d.Active
	}
	return &core.Job{
		Name:                    strings.TrimSpace(d.Name),
		Handler:                 strings.TrimSpace(d.Handler),
		Command:                 d.Command,
		WorkingDir:              d.WorkingDir,
		TimeoutSeconds:          d.TimeoutSeconds,
		IntervalMinutes:         d.IntervalMinutes,
		StaleLockTimeoutMinutes: d.StaleLockTimeoutMinutes,
		Active:                  active,
	}
}

// Import upserts every definition and returns the number written.
func (f *File) Import(ctx context.Context, store Upserter) (int, error) {
	for i, def := range f.Jobs {
		if err := store.UpsertJob(ctx, def.Job()); err != nil {
			return i, fmt.Errorf("import job %q: %w", def.Name, err)
		}
	}
	return len(f.Jobs), nil
}

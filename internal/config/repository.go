package config

import (
	"fmt"
	"os"
	"regexp"
)

// Priority orders repositories for indexing.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ParsePriority converts a string into a Priority, defaulting to medium.
func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return Priority(s)
	default:
		return PriorityMedium
	}
}

// Rank returns the scheduling order for the priority; lower sorts first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// nameRE constrains repository names to a stable, path-safe alphabet.
var nameRE = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Repository is a registered source tree.
type Repository struct {
	// Name is the unique, stable key for the repository.
	Name string `yaml:"name"`

	// Path is the absolute root directory.
	Path string `yaml:"path"`

	// Enabled repositories participate in indexing and search.
	Enabled bool `yaml:"enabled"`

	// Excluded (locked) repositories are skipped by reindex requests
	// unless explicitly overridden.
	Excluded bool `yaml:"excluded"`

	// Priority orders repositories within an indexing run.
	Priority Priority `yaml:"priority"`

	// AutoReindex enables the filesystem watcher for this repository.
	AutoReindex bool `yaml:"auto_reindex"`

	// IncludePatterns are glob patterns; empty inherits global defaults.
	IncludePatterns []string `yaml:"include_patterns,omitempty"`

	// ExcludePatterns are merged with the global exclusions.
	ExcludePatterns []string `yaml:"exclude_patterns,omitempty"`
}

// Validate checks name and priority. Path existence is checked at
// registration time only, so already-registered repositories whose
// directory disappeared still load.
func (r Repository) Validate() error {
	if !nameRE.MatchString(r.Name) {
		return fmt.Errorf("repository name %q must match [A-Za-z0-9_.-]+", r.Name)
	}
	if r.Path == "" {
		return fmt.Errorf("repository %q has empty path", r.Name)
	}
	switch r.Priority {
	case PriorityHigh, PriorityMedium, PriorityLow:
	default:
		return fmt.Errorf("repository %q has invalid priority %q", r.Name, r.Priority)
	}
	return nil
}

// validateNewRepository applies registration-time checks on top of Validate.
func validateNewRepository(r Repository) error {
	if err := r.Validate(); err != nil {
		return err
	}
	info, err := os.Stat(r.Path)
	if err != nil {
		return fmt.Errorf("repository path %s: %w", r.Path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("repository path %s is not a directory", r.Path)
	}
	return nil
}

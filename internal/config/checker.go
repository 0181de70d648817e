// internal/config/checker.go - Checker definitions and the .dwmon file format
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dwmon/internal/requirement"
)

const (
	QuerySentinel        = "__QUERY__"
	RequirementsSentinel = "__REQUIREMENTS__"
	SourceSentinel       = "__SOURCE__"
	ExtraSentinel        = "__EXTRA__"
	UniqueKeySentinel    = "dwmon_unique_key"
	TimestampSentinel    = "dwmon_timestamp"

	CheckerFileExt    = ".dwmon"
	MaxCheckerNameLen = 100
)

// ErrCheckerFormat marks a checker definition that cannot be used. It is
// also a requirement.ErrParse.
var ErrCheckerFormat = fmt.Errorf("checker config format: %w", requirement.ErrParse)

// ErrNoCheckers is returned when discovery finds nothing to run.
var ErrNoCheckers = errors.New("No checker names found. Is the configs dir empty?")

// CheckerConfig is one named watchdog: where its rows come from and the
// rules they must satisfy.
type CheckerConfig struct {
	Name         string         `yaml:"name" json:"name"`
	Source       string         `yaml:"source" json:"source"`
	Query        string         `yaml:"query" json:"query"`
	Requirements []string       `yaml:"requirements" json:"requirements"`
	Extra        map[string]any `yaml:"extra" json:"extra"`
}

// Validate checks the name and query guards.
func (c *CheckerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: checker name cannot be empty", ErrCheckerFormat)
	}
	if len(c.Name) >= MaxCheckerNameLen {
		return fmt.Errorf("%w: checker name %q must be shorter than %d characters", ErrCheckerFormat, c.Name, MaxCheckerNameLen)
	}
	if !strings.Contains(strings.ToLower(c.Query), "select") {
		return fmt.Errorf("%w: query for checker %s must be a select", ErrCheckerFormat, c.Name)
	}
	for _, sentinel := range []string{UniqueKeySentinel, TimestampSentinel} {
		if !strings.Contains(c.Query, sentinel) {
			return fmt.Errorf("%w: query for checker %s must mention %s", ErrCheckerFormat, c.Name, sentinel)
		}
	}
	return nil
}

// ParseRequirements parses the requirement lines. It is called on every
// pass so edits take effect without a restart.
func (c *CheckerConfig) ParseRequirements() ([]requirement.Requirement, error) {
	reqs, err := requirement.ParseAll(strings.Join(c.Requirements, "\n"))
	if err != nil {
		return nil, fmt.Errorf("checker %s: %w", c.Name, err)
	}
	return reqs, nil
}

// ParseCheckerFile parses the sectioned .dwmon format:
//
//	__QUERY__
//	select id as dwmon_unique_key, ts as dwmon_timestamp from events
//	__REQUIREMENTS__
//	CHECKHOURS0-23 CHECKMINUTES*/5 WEEKDAYS WEEKENDS MINNUM1 MAXNUM50 LOOKBACKSECONDS3600
//	__SOURCE__
//	warehouse
//	__EXTRA__
//	{"retention_seconds": 86400}
func ParseCheckerFile(name, text string) (*CheckerConfig, error) {
	for _, sentinel := range []string{
		QuerySentinel, RequirementsSentinel, UniqueKeySentinel,
		TimestampSentinel, SourceSentinel, ExtraSentinel,
	} {
		if !strings.Contains(text, sentinel) {
			return nil, fmt.Errorf("%w: expected %s", ErrCheckerFormat, sentinel)
		}
	}

	sections, ok := splitSections(text, QuerySentinel, RequirementsSentinel, SourceSentinel, ExtraSentinel)
	if !ok {
		return nil, fmt.Errorf("%w: sections must appear in the order %s, %s, %s, %s",
			ErrCheckerFormat, QuerySentinel, RequirementsSentinel, SourceSentinel, ExtraSentinel)
	}

	extra := map[string]any{}
	if raw := sections[3]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &extra); err != nil {
			return nil, fmt.Errorf("%w: extra config for checker %s is not a JSON object: %v", ErrCheckerFormat, name, err)
		}
	}

	var lines []string
	for _, line := range strings.Split(sections[1], "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}

	return &CheckerConfig{
		Name:         name,
		Query:        sections[0],
		Requirements: lines,
		Source:       sections[2],
		Extra:        extra,
	}, nil
}

// splitSections returns the trimmed text following each sentinel up to
// the next one.
func splitSections(text string, sentinels ...string) ([]string, bool) {
	starts := make([]int, len(sentinels))
	pos := 0
	for i, sentinel := range sentinels {
		idx := strings.Index(text[pos:], sentinel)
		if idx < 0 {
			return nil, false
		}
		starts[i] = pos + idx
		pos = starts[i] + len(sentinel)
	}

	sections := make([]string, len(sentinels))
	for i, sentinel := range sentinels {
		begin := starts[i] + len(sentinel)
		end := len(text)
		if i+1 < len(sentinels) {
			end = starts[i+1]
		}
		sections[i] = strings.TrimSpace(text[begin:end])
	}
	return sections, true
}

// CheckerCatalog discovers checkers from the inline config list and the
// .dwmon files in a directory. Inline definitions win on name clashes.
type CheckerCatalog struct {
	dir    string
	inline map[string]CheckerConfig
}

func NewCheckerCatalog(dir string, inline []CheckerConfig) *CheckerCatalog {
	catalog := &CheckerCatalog{dir: dir, inline: make(map[string]CheckerConfig, len(inline))}
	for _, checker := range inline {
		catalog.inline[checker.Name] = checker
	}
	return catalog
}

// CheckerNames lists every known checker, sorted.
func (c *CheckerCatalog) CheckerNames() ([]string, error) {
	names := make(map[string]struct{}, len(c.inline))
	for name := range c.inline {
		names[name] = struct{}{}
	}

	if c.dir != "" {
		entries, err := os.ReadDir(c.dir)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read checkers directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), CheckerFileExt) {
				continue
			}
			names[strings.TrimSuffix(entry.Name(), CheckerFileExt)] = struct{}{}
		}
	}

	if len(names) == 0 {
		return nil, ErrNoCheckers
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)
	return sorted, nil
}

// LoadChecker reads the current definition of a checker.
func (c *CheckerCatalog) LoadChecker(name string) (*CheckerConfig, error) {
	if checker, ok := c.inline[name]; ok {
		return &checker, nil
	}

	path := filepath.Join(c.dir, name+CheckerFileExt)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checker file %s: %w", path, err)
	}
	return ParseCheckerFile(name, string(data))
}

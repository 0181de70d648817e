package config

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dwmon/internal/requirement"
)

const appsChecker = `
__QUERY__
SELECT application_id AS dwmon_unique_key, submitted_at AS dwmon_timestamp
FROM applications
WHERE submitted_at > ?

__REQUIREMENTS__
# business hours
CHECKHOURS9-17 CHECKMINUTES0-59 WEEKDAYS MINNUM1 MAXNUM100 LOOKBACKSECONDS3600

CHECKHOURS0-23 CHECKMINUTES*/30 WEEKENDS MINNUM0 MAXNUM10 LOOKBACKSECONDS7200
__SOURCE__
warehouse
__EXTRA__
{"retention_seconds": 86400, "handlers": ["log", "pushover"]}
`

func TestParseCheckerFile(t *testing.T) {
	checker, err := ParseCheckerFile("apps", appsChecker)
	require.NoError(t, err)

	assert.Equal(t, "apps", checker.Name)
	assert.True(t, strings.HasPrefix(checker.Query, "SELECT application_id"))
	assert.True(t, strings.HasSuffix(checker.Query, "WHERE submitted_at > ?"))
	assert.Equal(t, "warehouse", checker.Source)
	assert.Len(t, checker.Requirements, 3)
	assert.Equal(t, float64(86400), checker.Extra["retention_seconds"])
	require.NoError(t, checker.Validate())

	reqs, err := checker.ParseRequirements()
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, 9, reqs[0].HoursLower)
	assert.Equal(t, 30, reqs[1].MinutesStride)
}

func TestParseCheckerFileRejects(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"missing query", strings.Replace(appsChecker, QuerySentinel, "", 1)},
		{"missing source", strings.Replace(appsChecker, SourceSentinel, "", 1)},
		{"missing unique key", strings.Replace(appsChecker, UniqueKeySentinel, "id", 1)},
		{"missing timestamp", strings.Replace(appsChecker, TimestampSentinel, "ts", 1)},
		{"bad extra", strings.Replace(appsChecker, `{"retention_seconds"`, `["retention_seconds"`, 1)},
		{"out of order", "__SOURCE__ x __QUERY__ select dwmon_unique_key, dwmon_timestamp __REQUIREMENTS__ __EXTRA__ {}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCheckerFile("apps", tt.text)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCheckerFormat))
			assert.True(t, errors.Is(err, requirement.ErrParse))
		})
	}
}

func TestCheckerRequirementsErrors(t *testing.T) {
	checker := &CheckerConfig{Name: "apps", Requirements: []string{"# only a comment"}}
	_, err := checker.ParseRequirements()
	assert.ErrorIs(t, err, requirement.ErrEmpty)
	assert.Contains(t, err.Error(), "checker apps")

	checker.Requirements = []string{"CHECKHOURS9-5 CHECKMINUTES0-0 WEEKDAYS MINNUM5 MAXNUM20 LOOKBACKSECONDS1000"}
	_, err = checker.ParseRequirements()
	assert.ErrorIs(t, err, requirement.ErrHoursRelationship)
}

func TestCheckerValidate(t *testing.T) {
	good := CheckerConfig{Name: "apps", Query: "select 1 as dwmon_unique_key, 2 as dwmon_timestamp"}
	require.NoError(t, good.Validate())

	long := good
	long.Name = strings.Repeat("x", MaxCheckerNameLen)
	assert.ErrorIs(t, long.Validate(), ErrCheckerFormat)

	notSelect := good
	notSelect.Query = "update dwmon_unique_key set dwmon_timestamp = 1"
	assert.ErrorIs(t, notSelect.Validate(), ErrCheckerFormat)

	unnamed := good
	unnamed.Name = ""
	assert.Error(t, unnamed.Validate())
}

func TestCheckerCatalog(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "apps.dwmon"), appsChecker)
	writeFile(t, filepath.Join(dir, "jobs.dwmon"), appsChecker)
	writeFile(t, filepath.Join(dir, "README.md"), "not a checker")

	inline := []CheckerConfig{{Name: "jobs", Source: "inline", Query: "select dwmon_unique_key, dwmon_timestamp"}}
	catalog := NewCheckerCatalog(dir, inline)

	names, err := catalog.CheckerNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"apps", "jobs"}, names)

	apps, err := catalog.LoadChecker("apps")
	require.NoError(t, err)
	assert.Equal(t, "warehouse", apps.Source)

	jobs, err := catalog.LoadChecker("jobs")
	require.NoError(t, err)
	assert.Equal(t, "inline", jobs.Source)

	_, err = catalog.LoadChecker("missing")
	assert.Error(t, err)
}

func TestCheckerCatalogEmpty(t *testing.T) {
	_, err := NewCheckerCatalog(t.TempDir(), nil).CheckerNames()
	assert.ErrorIs(t, err, ErrNoCheckers)

	_, err = NewCheckerCatalog(filepath.Join(t.TempDir(), "absent"), nil).CheckerNames()
	assert.ErrorIs(t, err, ErrNoCheckers)
}

package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dwmon/internal/requirement"
)

func mustParse(t *testing.T, text string) requirement.Requirement {
	t.Helper()
	req, err := requirement.Parse(text)
	require.NoError(t, err)
	return req
}

func TestCandidateCount(t *testing.T) {
	assert.Equal(t, 10, CandidateCount(1))
	assert.Equal(t, 10, CandidateCount(60))
	assert.Equal(t, 20, CandidateCount(61))
	assert.Equal(t, 600, CandidateCount(3600))
	assert.Equal(t, 100800, CandidateCount(requirement.MaxLookbackSeconds))
}

func TestEligibleMinutesLongestLookback(t *testing.T) {
	req := mustParse(t, "CHECKHOURS0-23 CHECKMINUTES0-59 WEEKDAYS WEEKENDS MINNUM0 MAXNUM1 LOOKBACKSECONDS604800")
	now := time.Date(2024, time.January, 1, 10, 30, 45, 0, time.UTC)

	minutes := EligibleMinutes(now, req, 0, false, time.UTC)
	assert.Len(t, minutes, CandidateCount(requirement.MaxLookbackSeconds))
}

func TestEligibleMinutesNoAudit(t *testing.T) {
	req := mustParse(t, "CHECKHOURS0-23 CHECKMINUTES0-59 WEEKDAYS WEEKENDS MINNUM0 MAXNUM1 LOOKBACKSECONDS60")
	now := time.Date(2024, time.January, 1, 10, 30, 45, 0, time.UTC)
	minuteNow := time.Date(2024, time.January, 1, 10, 30, 0, 0, time.UTC).Unix()

	minutes := EligibleMinutes(now, req, 0, false, time.UTC)
	require.Len(t, minutes, 10)
	for i, minute := range minutes {
		assert.Equal(t, minuteNow-int64(60*i), minute)
	}
}

func TestEligibleMinutesRespectsAuditFloor(t *testing.T) {
	req := mustParse(t, "CHECKHOURS0-23 CHECKMINUTES0-59 WEEKDAYS WEEKENDS MINNUM0 MAXNUM1 LOOKBACKSECONDS60")
	now := time.Date(2024, time.January, 1, 10, 30, 0, 0, time.UTC)
	minuteNow := now.Unix()

	minutes := EligibleMinutes(now, req, minuteNow-180, true, time.UTC)
	assert.Equal(t, []int64{minuteNow, minuteNow - 60, minuteNow - 120}, minutes)

	assert.Empty(t, EligibleMinutes(now, req, minuteNow, true, time.UTC))
	assert.Empty(t, EligibleMinutes(now, req, minuteNow+600, true, time.UTC))
}

func TestEligibleMinutesStride(t *testing.T) {
	req := mustParse(t, "CHECKHOURS0-23 CHECKMINUTES*/15 WEEKDAYS WEEKENDS MINNUM0 MAXNUM1 LOOKBACKSECONDS300")
	now := time.Date(2024, time.January, 1, 10, 31, 0, 0, time.UTC)

	// 50 candidates reach back to 09:42.
	minutes := EligibleMinutes(now, req, 0, false, time.UTC)
	var got []string
	for _, m := range minutes {
		got = append(got, time.Unix(m, 0).UTC().Format("15:04"))
	}
	assert.Equal(t, []string{"10:30", "10:15", "10:00", "09:45"}, got)
}

func TestEligibleMinutesUsesLocation(t *testing.T) {
	mst := time.FixedZone("MST", -7*3600)
	now := time.Unix(1455997930, 0)

	req := mustParse(t, "CHECKHOURS12-18 CHECKMINUTES50-55 WEEKDAYS WEEKENDS MINNUM5 MAXNUM20 LOOKBACKSECONDS60")
	minutes := EligibleMinutes(now, req, 0, false, mst)
	assert.Equal(t, []int64{1455997920, 1455997860, 1455997800}, minutes)

	// The same instant is 19:52 in UTC, outside the hours.
	assert.Empty(t, EligibleMinutes(now, req, 0, false, time.UTC))

	weekdays := mustParse(t, "CHECKHOURS12-18 CHECKMINUTES50-55 WEEKDAYS MINNUM5 MAXNUM20 LOOKBACKSECONDS60")
	assert.Empty(t, EligibleMinutes(now, weekdays, 0, false, mst))
}

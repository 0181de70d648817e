// internal/monitoring/eligibility.go - Which past minutes are due for evaluation
package monitoring

import (
	"time"

	"dwmon/internal/requirement"
)

// CandidateCount is how many recent minutes are considered for a lookback.
// Looking back ten windows lets the checker catch up after lagging.
func CandidateCount(lookbackSeconds int) int {
	return (lookbackSeconds + 59) / 60 * 10
}

// EligibleMinutes returns the minute epochs, newest first, that match
// req's schedule in loc, fall within the candidate range ending at now,
// and are later than lastChecked. When found is false there is no floor.
func EligibleMinutes(now time.Time, req requirement.Requirement, lastChecked int64, found bool, loc *time.Location) []int64 {
	if loc == nil {
		loc = time.Local
	}

	minuteNow := now.Unix() - mod(now.Unix(), 60)
	count := CandidateCount(req.LookbackSeconds)

	var eligible []int64
	for i := 0; i < count; i++ {
		minute := minuteNow - int64(60*i)
		if found && minute <= lastChecked {
			// Candidates only get older from here.
			break
		}
		if req.Matches(time.Unix(minute, 0).In(loc)) {
			eligible = append(eligible, minute)
		}
	}
	return eligible
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

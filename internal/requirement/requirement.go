// internal/requirement/requirement.go - Schedule and threshold rules for checkers
package requirement

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

const (
	keywordHours    = "CHECKHOURS"
	keywordMinutes  = "CHECKMINUTES"
	keywordWeekdays = "WEEKDAYS"
	keywordWeekends = "WEEKENDS"
	keywordMinNum   = "MINNUM"
	keywordMaxNum   = "MAXNUM"
	keywordLookback = "LOOKBACKSECONDS"
)

// MaxLookbackSeconds bounds the window to one week, which keeps the
// candidate minutes scanned per pass at a fixed ceiling.
const MaxLookbackSeconds = 7 * 24 * 60 * 60

// Requirement is one schedule+threshold rule of a checker. Values are only
// produced by Parse, so every Requirement in circulation is valid.
type Requirement struct {
	HoursLower int `json:"check_hours_lower"`
	HoursUpper int `json:"check_hours_upper"`

	// Range form sets MinutesLower and MinutesUpper; stride form sets
	// MinutesStride and leaves both bounds nil.
	MinutesLower  *int `json:"check_minutes_lower"`
	MinutesUpper  *int `json:"check_minutes_upper"`
	MinutesStride int  `json:"check_minutes_star,omitempty"`

	IncludeWeekdays bool `json:"include_weekdays"`
	IncludeWeekends bool `json:"include_weekends"`

	MinNum          int `json:"min_num"`
	MaxNum          int `json:"max_num"`
	LookbackSeconds int `json:"lookback_seconds"`

	Text string `json:"requirement"`
}

// IsStride reports whether the minute rule uses the */N form.
func (r Requirement) IsStride() bool {
	return r.MinutesStride > 0
}

// Lookback returns the window width as a duration.
func (r Requirement) Lookback() time.Duration {
	return time.Duration(r.LookbackSeconds) * time.Second
}

// Matches reports whether t falls on the requirement's schedule. The
// minute, hour and weekday are read in t's location.
func (r Requirement) Matches(t time.Time) bool {
	minute := t.Minute()
	if r.IsStride() {
		if minute%r.MinutesStride != 0 {
			return false
		}
	} else {
		if minute < *r.MinutesLower || minute > *r.MinutesUpper {
			return false
		}
	}

	hour := t.Hour()
	if hour < r.HoursLower || hour > r.HoursUpper {
		return false
	}

	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return r.IncludeWeekends
	default:
		return r.IncludeWeekdays
	}
}

// Parse turns a requirement string such as
//
//	CHECKHOURS9-17 CHECKMINUTES*/10 WEEKDAYS MINNUM5 MAXNUM20 LOOKBACKSECONDS3600
//
// into a Requirement. Tokens that do not start with a known keyword are
// ignored; when a keyword repeats, the first occurrence wins.
func Parse(text string) (Requirement, error) {
	for _, c := range text {
		if !allowedRune(c) {
			return Requirement{}, fail(ErrBadCharacters, text)
		}
	}

	tokens := strings.Fields(text)
	req := Requirement{Text: strings.TrimSpace(text)}

	lower, upper, err := parseHours(tokens, text)
	if err != nil {
		return Requirement{}, err
	}
	req.HoursLower, req.HoursUpper = lower, upper

	if err := parseMinutes(tokens, text, &req); err != nil {
		return Requirement{}, err
	}

	for _, tok := range tokens {
		switch tok {
		case keywordWeekdays:
			req.IncludeWeekdays = true
		case keywordWeekends:
			req.IncludeWeekends = true
		}
	}
	if !req.IncludeWeekdays && !req.IncludeWeekends {
		return Requirement{}, fail(ErrMissingDayOfWeek, text)
	}

	minNum, err := parseCount(tokens, keywordMinNum, ErrMissingMinNum, text)
	if err != nil {
		return Requirement{}, err
	}
	maxNum, err := parseCount(tokens, keywordMaxNum, ErrMissingMaxNum, text)
	if err != nil {
		return Requirement{}, err
	}
	if minNum < 0 || minNum > maxNum {
		return Requirement{}, fail(ErrMinMax, text)
	}
	req.MinNum, req.MaxNum = minNum, maxNum

	rest, ok := firstWithPrefix(tokens, keywordLookback)
	if !ok {
		return Requirement{}, fail(ErrMissingLookback, text)
	}
	lookback, ok := parseNumber(rest)
	if !ok {
		return Requirement{}, fail(ErrMalformedLookback, text)
	}
	if lookback <= 0 {
		return Requirement{}, fail(ErrLookback, text)
	}
	if lookback > MaxLookbackSeconds {
		return Requirement{}, fail(ErrLookbackTooLong, text)
	}
	req.LookbackSeconds = lookback

	return req, nil
}

// ParseAll parses one requirement per line. Blank lines and lines starting
// with '#' are skipped; at least one requirement must remain.
func ParseAll(block string) ([]Requirement, error) {
	var reqs []Requirement
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		req, err := Parse(line)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	if len(reqs) == 0 {
		return nil, fail(ErrEmpty, block)
	}
	return reqs, nil
}

func parseHours(tokens []string, text string) (int, int, error) {
	rest, ok := firstWithPrefix(tokens, keywordHours)
	if !ok {
		return 0, 0, fail(ErrMissingHours, text)
	}
	lower, upper, ok := parseRange(rest)
	if !ok {
		return 0, 0, fail(ErrMalformedHours, text)
	}
	if lower > upper {
		return 0, 0, fail(ErrHoursRelationship, text)
	}
	if lower < 0 || upper > 23 {
		return 0, 0, fail(ErrHoursRange, text)
	}
	return lower, upper, nil
}

func parseMinutes(tokens []string, text string, req *Requirement) error {
	var candidates []string
	for _, tok := range tokens {
		if strings.HasPrefix(tok, keywordMinutes) {
			candidates = append(candidates, strings.TrimPrefix(tok, keywordMinutes))
		}
	}
	if len(candidates) == 0 {
		return fail(ErrMissingMinutes, text)
	}

	for _, rest := range candidates {
		lower, upper, ok := parseRange(rest)
		if !ok {
			continue
		}
		if lower > upper {
			return fail(ErrMinutesRelationship, text)
		}
		if lower < 0 || upper > 59 {
			return fail(ErrMinutesRange, text)
		}
		req.MinutesLower, req.MinutesUpper = &lower, &upper
		return nil
	}

	for _, rest := range candidates {
		if !strings.HasPrefix(rest, "*/") {
			continue
		}
		stride, ok := parseNumber(strings.TrimPrefix(rest, "*/"))
		if !ok {
			continue
		}
		if stride <= 0 || stride >= 59 {
			return fail(ErrMinutesStride, text)
		}
		req.MinutesStride = stride
		return nil
	}

	return fail(ErrMalformedMinutes, text)
}

func parseCount(tokens []string, keyword string, missing *ValidationError, text string) (int, error) {
	rest, ok := firstWithPrefix(tokens, keyword)
	if !ok {
		return 0, fail(missing, text)
	}
	n, ok := parseNumber(rest)
	if !ok {
		return 0, fail(ErrMalformedCount, text)
	}
	return n, nil
}

func firstWithPrefix(tokens []string, prefix string) (string, bool) {
	for _, tok := range tokens {
		if strings.HasPrefix(tok, prefix) {
			return strings.TrimPrefix(tok, prefix), true
		}
	}
	return "", false
}

// parseRange accepts "<digits>-<digits>".
func parseRange(s string) (int, int, bool) {
	a, b, found := strings.Cut(s, "-")
	if !found {
		return 0, 0, false
	}
	lower, ok := parseNumber(a)
	if !ok {
		return 0, 0, false
	}
	upper, ok := parseNumber(b)
	if !ok {
		return 0, 0, false
	}
	return lower, upper, true
}

func parseNumber(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func allowedRune(c rune) bool {
	switch {
	case c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '*' || c == '/' || c == '-':
		return true
	}
	return unicode.IsSpace(c) && c < unicode.MaxASCII
}

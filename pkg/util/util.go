package util

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the DD/MM/YYYY form used for every date shown or written back to the sheet.
const DateLayout = "02/01/2006"

var (
	canonicalDateRegex  = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`)
	serializedDateRegex = regexp.MustCompile(`Date\((\d+),(\d+),(\d+)`)
)

// fallbackLayouts are tried in order once the two sheet-specific forms fail.
var fallbackLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"Mon Jan 02 2006 15:04:05 GMT-0700",
	time.RFC1123Z,
	time.RFC1123,
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"1/2/2006",
	"1/2/2006 15:04:05",
}

// FormatDate formats t as DD/MM/YYYY.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// NormalizeDate rewrites a sheet date cell as DD/MM/YYYY in the local time zone.
func NormalizeDate(s string) string {
	return NormalizeDateIn(s, time.Local)
}

// NormalizeDateIn rewrites a sheet date cell as DD/MM/YYYY. Input that is already
// DD/MM/YYYY passes through, "Date(Y,M,D)" uses a zero-based month, anything else is
// parsed best-effort. Unparseable input is returned unchanged.
func NormalizeDateIn(s string, loc *time.Location) string {
	if s == "" {
		return ""
	}
	if canonicalDateRegex.MatchString(s) {
		return s
	}

	if strings.HasPrefix(s, "Date(") {
		if m := serializedDateRegex.FindStringSubmatch(s); m != nil {
			year, _ := strconv.Atoi(m[1])
			month, _ := strconv.Atoi(m[2])
			day, _ := strconv.Atoi(m[3])
			return fmt.Sprintf("%02d/%02d/%d", day, month+1, year)
		}
	}

	if t, ok := parseAny(strings.TrimSpace(s), loc); ok {
		return FormatDate(t)
	}
	return s
}

func parseAny(s string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	// strip the "(India Standard Time)" suffix of JavaScript Date.toString()
	if i := strings.Index(s, " ("); i > 0 && strings.HasSuffix(s, ")") {
		s = s[:i]
	}
	for _, layout := range fallbackLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return t.In(loc), true
		}
	}
	return time.Time{}, false
}

// ParseDate parses a DD/MM/YYYY string. Values out of range roll over the way
// time.Date does; anything without three numeric parts is rejected.
func ParseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return time.Time{}, false
		}
		nums[i] = n
	}
	return time.Date(nums[2], time.Month(nums[1]), nums[0], 0, 0, 0, 0, time.UTC), true
}

// CompareDates orders two DD/MM/YYYY strings, pushing unparseable values after valid ones.
// desc reverses the order between valid dates only.
func CompareDates(a, b string, desc bool) int {
	ta, okA := ParseDate(a)
	tb, okB := ParseDate(b)
	switch {
	case !okA && !okB:
		return 0
	case !okA:
		return 1
	case !okB:
		return -1
	}
	c := ta.Compare(tb)
	if desc {
		return -c
	}
	return c
}

// IsBlank reports whether a sheet cell counts as empty: nil, or a string of only whitespace.
func IsBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

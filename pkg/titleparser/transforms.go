package titleparser

import (
	"strconv"
	"strings"
	"time"
)

// boolean always reports a match as present; used for rules whose regex
// alone is the detector (e.g. a fixed marker string).
func boolean(string) any { return true }

// literal returns a Transform that ignores the match and always yields v,
// used when one handler's regex maps a whole family of spellings onto a
// single canonical value.
func literal(v string) Transform {
	return func(string) any { return v }
}

func lowercase(match string) any { return foldCase.String(match) }

func uppercase(match string) any { return strings.ToUpper(match) }

// value passes the match through unchanged.
func value(match string) any { return match }

func extractDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// uinteger parses match as a plain non-negative integer.
func uinteger(match string) any {
	n, err := strconv.Atoi(extractDigits(match))
	if err != nil {
		return nil
	}
	return n
}

// firstUinteger parses the leading run of digits in match, used for
// fields like tmdb/tvdb ids embedded after a separator.
func firstUinteger(match string) any {
	nums := splitNumbers(match)
	if len(nums) == 0 {
		return nil
	}
	return intPtr(nums[0])
}

// splitNumbers extracts every run of digits in s as an int, in order.
func splitNumbers(s string) []int {
	var out []int
	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		if n, err := strconv.Atoi(cur.String()); err == nil {
			out = append(out, n)
		}
		cur.Reset()
	}
	for _, r := range s {
		if r >= '0' && r <= '9' {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return out
}

// parseNumericRange expands a two-number range match ("S01-S03",
// "1 to 3") into every int in [start, end], inclusive, when the span
// looks like a genuine range (separated by a dash, colon, or the words
// "to"/"thru") and the span is under 100 — otherwise it returns the bare
// numbers found.
func parseNumericRange(match string) any {
	nums := splitNumbers(match)
	if len(nums) == 2 {
		start, end := nums[0], nums[1]
		if start < end && (end-start) < 100 {
			lower := strings.ToLower(match)
			if strings.Contains(match, "-") || strings.Contains(lower, "to") ||
				strings.Contains(lower, "thru") || strings.Contains(match, ":") {
				out := make([]int, 0, end-start+1)
				for v := start; v <= end; v++ {
					out = append(out, v)
				}
				return out
			}
		}
	}
	return nums
}

var dateLayouts = []string{
	"2006-01-02",
	"2006.01.02",
	"01-02-2006",
	"01.02.2006",
	"02.01.2006",
	"Jan 2 2006",
	"January 2, 2006",
}

// parseDate tries every candidate layout in turn and returns the first
// one that parses, formatted as RFC3339 date (YYYY-MM-DD).
func parseDate(match string) any {
	cleaned := strings.TrimSpace(match)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return nil
}

// transformResolution canonicalizes an already-narrowed resolution token
// (4k/2160p/1080p/720p/480p in any case) to its lowercase "<n>p" form.
func transformResolution(match string) any {
	lower := strings.ToLower(match)
	if lower == "4k" {
		return "2160p"
	}
	return lower
}

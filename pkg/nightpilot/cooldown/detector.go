// Package cooldown implements a pure, allocation-light scan for agent
// rate-limit phrases. It never returns an error: unrecognized text yields
// no match, and a recognized phrase that fails to parse also yields no
// match, since the detector sits on every Executor failure's hot path.
package cooldown

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Info is the structured result of a successful detection.
type Info struct {
	IsCooling        bool
	ResetInstant     time.Time
	SecondsRemaining int64
	OriginalMessage  string
}

// pattern is one row of the data-driven phrase table. parse turns the
// regex submatches into an Info; it may return ok=false if the matched
// text doesn't actually parse (e.g. a malformed time-spec), in which case
// the detector moves on as if that pattern hadn't matched at all.
type pattern struct {
	name  string
	regex *regexp.Regexp
	parse func(now time.Time, match []string) (Info, bool)
}

// table lists every recognized phrase shape. New phrases are added here
// without touching Detect.
var table = []pattern{
	{
		name:  "reset-at-timespec",
		regex: regexp.MustCompile(`(?i)usage limit reached.{0,80}?reset\s*(?:at|:)?\s*([0-9][0-9:apm\s]*[0-9apm])`),
		parse: func(now time.Time, m []string) (Info, bool) {
			reset, ok := parseTimeSpec(now, m[1])
			if !ok {
				return Info{}, false
			}
			return infoFromReset(now, reset, m[0]), true
		},
	},
	{
		name:  "reset-time-field",
		regex: regexp.MustCompile(`(?i)reset_time:\s*([0-9][0-9:apm\s]*[0-9apm])`),
		parse: func(now time.Time, m []string) (Info, bool) {
			reset, ok := parseTimeSpec(now, m[1])
			if !ok {
				return Info{}, false
			}
			return infoFromReset(now, reset, m[0]), true
		},
	},
	{
		name:  "cooldown-seconds",
		regex: regexp.MustCompile(`(?i)cooldown:\s*(\d+)s`),
		parse: secondsParser(1),
	},
	{
		name:  "wait-seconds",
		regex: regexp.MustCompile(`(?i)wait\s+(\d+)\s+seconds?`),
		parse: secondsParser(1),
	},
	{
		name:  "retry-in-seconds",
		regex: regexp.MustCompile(`(?i)retry in\s+(\d+)\s+seconds?`),
		parse: secondsParser(1),
	},
	{
		name:  "oracle-time-remaining-hm",
		regex: regexp.MustCompile(`(?i)time remaining.{0,20}?(\d+)h\s*(\d+)m`),
		parse: func(now time.Time, m []string) (Info, bool) {
			h, err1 := strconv.Atoi(m[1])
			min, err2 := strconv.Atoi(m[2])
			if err1 != nil || err2 != nil {
				return Info{}, false
			}
			d := time.Duration(h)*time.Hour + time.Duration(min)*time.Minute
			return infoFromReset(now, now.Add(d), m[0]), true
		},
	},
	{
		name:  "oracle-time-remaining-m",
		regex: regexp.MustCompile(`(?i)time remaining.{0,20}?(\d+)m\b`),
		parse: func(now time.Time, m []string) (Info, bool) {
			min, err := strconv.Atoi(m[1])
			if err != nil {
				return Info{}, false
			}
			return infoFromReset(now, now.Add(time.Duration(min)*time.Minute), m[0]), true
		},
	},
	{
		name:  "oracle-time-remaining-colon",
		regex: regexp.MustCompile(`(?i)time remaining.{0,20}?(\d{1,2}):(\d{2})\b`),
		parse: func(now time.Time, m []string) (Info, bool) {
			h, err1 := strconv.Atoi(m[1])
			min, err2 := strconv.Atoi(m[2])
			if err1 != nil || err2 != nil {
				return Info{}, false
			}
			d := time.Duration(h)*time.Hour + time.Duration(min)*time.Minute
			return infoFromReset(now, now.Add(d), m[0]), true
		},
	},
}

func secondsParser(group int) func(now time.Time, m []string) (Info, bool) {
	return func(now time.Time, m []string) (Info, bool) {
		n, err := strconv.ParseInt(m[group], 10, 64)
		if err != nil {
			return Info{}, false
		}
		return infoFromReset(now, now.Add(time.Duration(n)*time.Second), m[0]), true
	}
}

func infoFromReset(now, reset time.Time, original string) Info {
	remaining := reset.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return Info{
		IsCooling:        reset.After(now),
		ResetInstant:     reset,
		SecondsRemaining: int64(remaining / time.Second),
		OriginalMessage:  strings.TrimSpace(original),
	}
}

// Detect scans text against the pattern table, taking the last match
// across all patterns (later occurrences in the text win, matching the
// "taking the last match" rule for repeated phrases in streamed output).
func Detect(text string) (Info, bool) {
	return DetectAt(text, time.Now())
}

// DetectAt is Detect with an injectable reference instant, for deterministic tests.
func DetectAt(text string, now time.Time) (Info, bool) {
	var best Info
	found := false
	var bestIdx int

	for _, p := range table {
		locs := p.regex.FindAllStringSubmatchIndex(text, -1)
		for _, loc := range locs {
			m := submatches(text, loc)
			info, ok := p.parse(now, m)
			if !ok {
				continue
			}
			if !found || loc[0] > bestIdx {
				best = info
				bestIdx = loc[0]
				found = true
			}
		}
	}
	return best, found
}

func submatches(text string, loc []int) []string {
	out := make([]string, len(loc)/2)
	for i := range out {
		s, e := loc[2*i], loc[2*i+1]
		if s < 0 {
			continue
		}
		out[i] = text[s:e]
	}
	return out
}

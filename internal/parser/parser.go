// Package parser extracts structured fields from LLM free-text responses.
// The vendor's output format is not contractually guaranteed, so every
// function here is best-effort: malformed input degrades to documented
// defaults, never to an error. The pipeline must always persist a result.
package parser

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	// DefaultScore is substituted when no numeric pattern is found.
	DefaultScore = 5.0

	// DefaultCallType is the label used when classification is missing.
	DefaultCallType = "Não identificado"
)

var (
	scoreRe    = regexp.MustCompile(`\d+\.?\d*`)
	subScoreRe = regexp.MustCompile(`^[-•*]\s*(.+?):\s*(\d+)\s*/\s*5\b`)
	bulletRe   = regexp.MustCompile(`^[-•*]\s*`)
)

// Score extracts the first decimal number from text. If nothing matches it
// returns DefaultScore — a missing score must not abort the record.
func Score(text string) float64 {
	m := scoreRe.FindString(text)
	if m == "" {
		return DefaultScore
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return DefaultScore
	}
	return v
}

// ScoreInRange extracts a score and clamps it into [0, max].
func ScoreInRange(text string, max float64) float64 {
	v := Score(text)
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// Sections splits text on bold markers (`**MARKER:**`). Each section runs
// until the next known marker or end of text. Missing markers yield an
// empty string, not an error.
func Sections(text string, markers []string) map[string]string {
	type hit struct {
		marker string
		start  int // index just past the marker token
		pos    int // index of the marker token itself
	}

	var hits []hit
	for _, m := range markers {
		token := "**" + m + ":**"
		idx := strings.Index(text, token)
		if idx < 0 {
			// Tolerate a missing closing colon inside the bold span.
			token = "**" + m + "**:"
			idx = strings.Index(text, token)
		}
		if idx < 0 {
			continue
		}
		hits = append(hits, hit{marker: m, start: idx + len(token), pos: idx})
	}

	out := make(map[string]string, len(markers))
	for _, m := range markers {
		out[m] = ""
	}

	for _, h := range hits {
		end := len(text)
		for _, other := range hits {
			if other.pos > h.pos && other.pos < end {
				end = other.pos
			}
		}
		out[h.marker] = strings.TrimSpace(text[h.start:end])
	}

	return out
}

// BulletList keeps only lines starting with a bullet glyph, strips the
// glyph and surrounding whitespace, and drops items that end up empty.
func BulletList(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !bulletRe.MatchString(line) {
			continue
		}
		item := strings.TrimSpace(bulletRe.ReplaceAllString(line, ""))
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

// SubScores scans lines shaped like `- <label>: <n>/5` and maps the
// normalized label (lowercased, whitespace → underscore) to the integer
// numerator, clamped to [0, 5]. Every requested category is present in the
// result; absent categories default to 0.
func SubScores(text string, categories []string) map[string]int {
	out := make(map[string]int, len(categories))
	for _, c := range categories {
		out[NormalizeCategory(c)] = 0
	}

	for _, line := range strings.Split(text, "\n") {
		m := subScoreRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		if n < 0 {
			n = 0
		}
		if n > 5 {
			n = 5
		}
		out[NormalizeCategory(m[1])] = n
	}

	return out
}

// NormalizeCategory lowercases a label and collapses whitespace runs to a
// single underscore.
func NormalizeCategory(label string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(label)))
	return strings.Join(fields, "_")
}

// CallType returns the classification section's first line, or
// DefaultCallType when the section is empty.
func CallType(section string) string {
	section = strings.TrimSpace(section)
	if section == "" {
		return DefaultCallType
	}
	if idx := strings.IndexByte(section, '\n'); idx >= 0 {
		section = strings.TrimSpace(section[:idx])
	}
	return section
}

package reflection

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"agentrank/internal/store"
)

// Field names reported in Parsed.Defaulted.
const (
	FieldSummary    = "summary"
	FieldImpact     = "impact"
	FieldConfidence = "confidence"
	FieldBehavior   = "behavior"
)

// Defaults are the values used for fields a provider response omits.
//
// A missing confidence becomes Confidence, a missing impact becomes Impact, a
// missing summary becomes the first free-text line (or "no summary"), and a
// missing behavior stays empty. Defaults never fail a reflection; they only
// lower its weight through the confidence score.
type Defaults struct {
	Confidence float64
	Impact     float64
}

// DefaultDefaults is the neutral fallback: confidence 0.5, impact 0.1.
var DefaultDefaults = Defaults{Confidence: 0.5, Impact: 0.1}

// Parsed is the structured content of a reflection response. It is always
// usable: any field not found in the text holds its default and is listed in
// Defaulted.
type Parsed struct {
	Summary    string   `json:"summary"`
	Impact     float64  `json:"impact"`
	Confidence float64  `json:"confidence"`
	BehaviorID string   `json:"behavior_id,omitempty"`
	Defaulted  []string `json:"defaulted,omitempty"`
}

// ParseError reports a response from which no field could be extracted.
type ParseError struct {
	Excerpt string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("no reflection fields in response %q", e.Excerpt)
}

// ParseReflection parses text with DefaultDefaults.
func ParseReflection(text string) (Parsed, error) {
	return DefaultDefaults.Parse(text)
}

// Parse extracts reflection fields from free text or a JSON object.
//
// Lines are matched case-insensitively on the keys impact, confidence,
// behavior (or behavior_id) and reflection (or summary), separated from their
// value by ':', '=' or a spaced '-'. Markdown bullets and emphasis are
// ignored and numbers may be written as percentages ("80%") or fractions
// ("4/5"). NaN and infinities are treated as missing.
// The returned Parsed is valid even when err is a *ParseError.
func (d Defaults) Parse(text string) (Parsed, error) {
	var f fields
	if obj, ok := jsonObject(text); ok {
		f = fromJSON(obj)
	} else {
		f = fromLines(text)
	}

	p := Parsed{}
	if f.summary != "" {
		p.Summary = f.summary
	} else {
		p.Summary = f.freeText
		if p.Summary == "" {
			p.Summary = "no summary"
		}
		p.Defaulted = append(p.Defaulted, FieldSummary)
	}
	if f.impact != nil {
		p.Impact = *f.impact
	} else {
		p.Impact = d.Impact
		p.Defaulted = append(p.Defaulted, FieldImpact)
	}
	if f.confidence != nil {
		p.Confidence = store.Clamp01(*f.confidence)
	} else {
		p.Confidence = store.Clamp01(d.Confidence)
		p.Defaulted = append(p.Defaulted, FieldConfidence)
	}
	if f.behavior != "" {
		p.BehaviorID = f.behavior
	} else {
		p.Defaulted = append(p.Defaulted, FieldBehavior)
	}

	if f.summary == "" && f.impact == nil && f.confidence == nil && f.behavior == "" {
		return p, &ParseError{Excerpt: excerpt(text, 80)}
	}
	return p, nil
}

type fields struct {
	summary    string
	impact     *float64
	confidence *float64
	behavior   string
	freeText   string
}

// keys in match order; behavior_id must precede behavior.
var lineKeys = []struct {
	key   string
	field string
}{
	{"behavior_id", FieldBehavior},
	{"behavior id", FieldBehavior},
	{"behavior", FieldBehavior},
	{"reflection", FieldSummary},
	{"summary", FieldSummary},
	{"impact", FieldImpact},
	{"confidence", FieldConfidence},
}

func fromLines(text string) fields {
	var f fields
	for _, raw := range strings.Split(text, "\n") {
		line := cleanLine(raw)
		if line == "" {
			continue
		}
		field, value, ok := splitKey(line)
		if !ok {
			if f.freeText == "" && !strings.HasPrefix(line, "```") {
				f.freeText = excerpt(line, 280)
			}
			continue
		}
		f.set(field, value)
	}
	return f
}

func (f *fields) set(field, value string) {
	switch field {
	case FieldSummary:
		if f.summary == "" && value != "" {
			f.summary = value
		}
	case FieldBehavior:
		if f.behavior == "" {
			f.behavior = behaviorValue(value)
		}
	case FieldImpact:
		if f.impact == nil {
			if v, ok := parseNumber(value); ok {
				f.impact = &v
			}
		}
	case FieldConfidence:
		if f.confidence == nil {
			if v, ok := parseNumber(value); ok {
				f.confidence = &v
			}
		}
	}
}

// cleanLine strips list markers and markdown emphasis.
func cleanLine(s string) string {
	s = strings.TrimSpace(s)
	for _, m := range []string{"- ", "* ", "+ ", "• ", "> "} {
		s = strings.TrimPrefix(s, m)
	}
	if i := strings.Index(s, ". "); i > 0 && i <= 3 {
		if _, err := strconv.Atoi(s[:i]); err == nil {
			s = s[i+2:]
		}
	}
	s = strings.NewReplacer("**", "", "__", "", "`", "").Replace(s)
	return strings.TrimSpace(s)
}

func splitKey(line string) (field, value string, ok bool) {
	lower := strings.ToLower(line)
	for _, k := range lineKeys {
		if !strings.HasPrefix(lower, k.key) {
			continue
		}
		rest := strings.TrimSpace(line[len(k.key):])
		if rest == "" {
			return "", "", false
		}
		switch rest[0] {
		case ':', '=':
		case '-':
			// "Impact -0.3" carries a signed value, "Impact - 0.3" a separator.
			if len(rest) > 1 && (rest[1] == '.' || (rest[1] >= '0' && rest[1] <= '9')) {
				return k.field, rest, true
			}
		default:
			return "", "", false
		}
		return k.field, strings.TrimSpace(rest[1:]), true
	}
	return "", "", false
}

func behaviorValue(v string) string {
	v = strings.Trim(strings.TrimSpace(v), `"'`)
	switch strings.ToLower(v) {
	case "", "none", "n/a", "null", "-":
		return ""
	}
	if i := strings.IndexAny(v, " \t"); i > 0 {
		v = v[:i]
	}
	return v
}

// parseNumber reads the leading number of v, accepting "0.8", "80%", "4/5".
// Non-finite values count as missing.
func parseNumber(v string) (float64, bool) {
	n, ok := parseRawNumber(v)
	if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func parseRawNumber(v string) (float64, bool) {
	tok := strings.Fields(v)
	if len(tok) == 0 {
		return 0, false
	}
	s := strings.TrimRight(tok[0], ",;.)")
	if strings.HasSuffix(s, "%") {
		n, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return 0, false
		}
		return n / 100, true
	}
	if num, den, found := strings.Cut(s, "/"); found {
		a, err1 := strconv.ParseFloat(num, 64)
		b, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || b == 0 {
			return 0, false
		}
		return a / b, true
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// jsonObject finds a JSON object in text, optionally inside a code fence.
func jsonObject(text string) (map[string]any, bool) {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func fromJSON(obj map[string]any) fields {
	var f fields
	for k, v := range obj {
		field, _, ok := splitKey(strings.ToLower(k) + ":")
		if !ok {
			continue
		}
		switch val := v.(type) {
		case float64:
			if field == FieldImpact || field == FieldConfidence {
				n := val
				if field == FieldImpact {
					f.impact = &n
				} else {
					f.confidence = &n
				}
			}
		case string:
			f.set(field, val)
		}
	}
	return f
}

func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

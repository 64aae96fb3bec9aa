package querypipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openclaw/memento/internal/memerr"
	"github.com/openclaw/memento/internal/models"
)

// recognisedFilterKeys is the closed set from spec §4.8 step 1. Any other
// key in a raw filter map is a ValidationError, not a silently ignored
// field.
var recognisedFilterKeys = map[string]bool{
	"tags":           true,
	"source":         true,
	"session_id":     true,
	"text_like":      true,
	"min_importance": true,
	"since":          true,
	"before":         true,
}

// ParseFilters validates and converts a raw filter map (as decoded from a
// client request) into the closed models.Filters shape. since/before accept
// either an ISO-8601 timestamp or a relative duration like "7d", "24h",
// "30m", resolved against now.
func ParseFilters(raw map[string]any) (models.Filters, error) {
	var f models.Filters
	for key := range raw {
		if !recognisedFilterKeys[key] {
			return f, memerr.New(memerr.KindValidation, fmt.Sprintf("unrecognised filter key %q", key))
		}
	}

	if v, ok := raw["tags"]; ok {
		tags, err := toStringSlice(v)
		if err != nil {
			return f, memerr.Wrap(memerr.KindValidation, "parsing filter \"tags\"", err)
		}
		f.Tags = tags
	}
	if v, ok := raw["source"]; ok {
		s, err := toString(v)
		if err != nil {
			return f, memerr.Wrap(memerr.KindValidation, "parsing filter \"source\"", err)
		}
		f.Source = s
	}
	if v, ok := raw["session_id"]; ok {
		s, err := toString(v)
		if err != nil {
			return f, memerr.Wrap(memerr.KindValidation, "parsing filter \"session_id\"", err)
		}
		f.SessionID = s
	}
	if v, ok := raw["text_like"]; ok {
		s, err := toString(v)
		if err != nil {
			return f, memerr.Wrap(memerr.KindValidation, "parsing filter \"text_like\"", err)
		}
		if len(s) > 1000 {
			return f, memerr.New(memerr.KindValidation, "filter \"text_like\" exceeds 1000 bytes")
		}
		f.TextLike = s
	}
	if v, ok := raw["min_importance"]; ok {
		n, err := toFloat(v)
		if err != nil {
			return f, memerr.Wrap(memerr.KindValidation, "parsing filter \"min_importance\"", err)
		}
		f.MinImportance = n
	}
	if v, ok := raw["since"]; ok {
		ts, err := parseTimeBound(v)
		if err != nil {
			return f, memerr.Wrap(memerr.KindValidation, "parsing filter \"since\"", err)
		}
		f.Since = ts
	}
	if v, ok := raw["before"]; ok {
		ts, err := parseTimeBound(v)
		if err != nil {
			return f, memerr.Wrap(memerr.KindValidation, "parsing filter \"before\"", err)
		}
		f.Before = ts
	}
	return f, nil
}

func toString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected a string, got %T", v)
	}
	return s, nil
}

func toStringSlice(v any) ([]string, error) {
	switch vv := v.(type) {
	case []string:
		return vv, nil
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected a list of strings, got element of type %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list of strings, got %T", v)
	}
}

func toFloat(v any) (float64, error) {
	switch vv := v.(type) {
	case float64:
		return vv, nil
	case float32:
		return float64(vv), nil
	case int:
		return float64(vv), nil
	case int64:
		return float64(vv), nil
	case string:
		return strconv.ParseFloat(vv, 64)
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

// parseTimeBound resolves since/before into absolute unix seconds. Numeric
// input is taken as already-absolute unix seconds; string input is tried as
// ISO-8601 first, then as a relative duration ("7d"/"24h"/"30m") subtracted
// from now.
func parseTimeBound(v any) (int64, error) {
	switch vv := v.(type) {
	case float64:
		return int64(vv), nil
	case int64:
		return vv, nil
	case int:
		return int64(vv), nil
	case string:
		if ts, err := time.Parse(time.RFC3339, vv); err == nil {
			return ts.Unix(), nil
		}
		if d, ok := parseRelativeDuration(vv); ok {
			return time.Now().Add(-d).Unix(), nil
		}
		return 0, fmt.Errorf("not an ISO-8601 timestamp or relative duration: %q", vv)
	default:
		return 0, fmt.Errorf("expected a string or number, got %T", v)
	}
}

// parseRelativeDuration parses strings like "7d", "24h", "30m" — units the
// source's filter parser accepts that time.ParseDuration does not (it lacks
// "d" for days).
func parseRelativeDuration(s string) (time.Duration, bool) {
	if len(s) < 2 {
		return 0, false
	}
	unit := s[len(s)-1]
	numPart := s[:len(s)-1]
	n, err := strconv.ParseFloat(numPart, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	switch unit {
	case 'd':
		return time.Duration(n * float64(24*time.Hour)), true
	case 'h':
		return time.Duration(n * float64(time.Hour)), true
	case 'm':
		return time.Duration(n * float64(time.Minute)), true
	default:
		return 0, false
	}
}

// Matches reports whether m satisfies f and the given collection (spec
// §4.8 step 2: P(row) = collection match ∧ time window ∧ filters).
func Matches(m models.Memory, collection string, f models.Filters) bool {
	if collection != "" && m.Collection != collection {
		return false
	}
	if f.Source != "" && m.Source != f.Source {
		return false
	}
	if f.SessionID != "" && m.SessionID != f.SessionID {
		return false
	}
	if f.MinImportance > 0 && m.Importance < f.MinImportance {
		return false
	}
	if f.Since != 0 && m.Timestamp < f.Since {
		return false
	}
	if f.Before != 0 && m.Timestamp >= f.Before {
		return false
	}
	if f.TextLike != "" && !strings.Contains(strings.ToLower(m.Text), strings.ToLower(f.TextLike)) {
		return false
	}
	if len(f.Tags) > 0 && !anyTagMatches(m.Tags, f.Tags) {
		return false
	}
	return true
}

func anyTagMatches(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, w := range want {
		if set[w] {
			return true
		}
	}
	return false
}

package spec

import (
	"maps"
	"sort"
)

// Metadata is a parsed spec file: parameter name to typed value, plus the
// resolved strategy under StrategyKey. Steps of one run share the same map.
type Metadata map[string]any

// Strategy returns the strategy attached by the parser.
func (m Metadata) Strategy() Strategy {
	strategy, _ := m[StrategyKey].(Strategy)
	return strategy
}

// String returns a string value or "" when absent.
func (m Metadata) String(key string) string {
	value, _ := m[key].(string)
	return value
}

// StringOr returns a string value or fallback when absent or empty.
func (m Metadata) StringOr(key, fallback string) string {
	if value := m.String(key); value != "" {
		return value
	}
	return fallback
}

// Strings returns a copy of a list value.
func (m Metadata) Strings(key string) []string {
	value, _ := m[key].([]string)
	if value == nil {
		return nil
	}
	return append([]string(nil), value...)
}

// Int returns an integer value and whether it was set.
func (m Metadata) Int(key string) (int, bool) {
	value, ok := m[key].(int)
	return value, ok
}

// IntOr returns an integer value or fallback.
func (m Metadata) IntOr(key string, fallback int) int {
	if value, ok := m.Int(key); ok {
		return value
	}
	return fallback
}

// BoolOr returns a boolean value or fallback.
func (m Metadata) BoolOr(key string, fallback bool) bool {
	if value, ok := m[key].(bool); ok {
		return value
	}
	return fallback
}

// Has reports whether key is present.
func (m Metadata) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Keys returns the parameter names in sorted order, without StrategyKey.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		if key == StrategyKey {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy.
func (m Metadata) Clone() Metadata {
	return maps.Clone(m)
}

// merge folds value into key following the repetition rule: strings are
// joined with a space, lists are concatenated, anything else keeps the
// first occurrence.
func (m Metadata) merge(key string, value any) bool {
	existing, present := m[key]
	if !present {
		m[key] = value
		return true
	}

	switch current := existing.(type) {
	case string:
		if next, ok := value.(string); ok {
			m[key] = current + " " + next
			return true
		}
	case []string:
		if next, ok := value.([]string); ok {
			m[key] = append(current, next...)
			return true
		}
	}
	return false
}

package config

import (
	"strconv"
	"strings"
)

// applyEnvOverlay overrides document values from AGENTIC_OS_ variables.
// Double underscores separate nesting levels; path segments are
// lowercased. Missing intermediate maps are created, so an overlay can
// introduce values the file omitted.
func applyEnvOverlay(doc map[string]any, environ []string) {
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		path := strings.Split(strings.TrimPrefix(key, EnvPrefix), "__")
		for i, seg := range path {
			path[i] = strings.ToLower(seg)
		}
		if path[len(path)-1] == "" {
			continue
		}
		setPath(doc, path, coerceScalar(value))
	}
}

// setPath walks the document creating maps as needed and sets the leaf.
// A non-map in the middle of the path is replaced; the overlay wins.
func setPath(doc map[string]any, path []string, value any) {
	current := doc
	for _, seg := range path[:len(path)-1] {
		next, ok := current[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[seg] = next
		}
		current = next
	}
	current[path[len(path)-1]] = value
}

// coerceScalar types an overlay value: booleans, then numbers, then the
// raw string.
func coerceScalar(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

package flow

// State is the shared key/value container passed by reference through an
// entire flow run. It is the only inter-node communication channel besides
// the returned Action. The orchestrator performs no locking: sequential runs
// are safe because execution is single-threaded, and batch flows isolate
// branches with Clone before injecting the per-item key.
type State map[string]any

// NewState returns an empty shared-state container.
func NewState() State {
	return make(State)
}

// Clone returns a shallow copy of the state. Top-level keys are isolated;
// nested mutable values remain aliased with the original.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Has reports whether a key is present.
func (s State) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// GetString returns the value under key as a string, or "" when absent or
// of another type.
func (s State) GetString(key string) string {
	if v, ok := s[key].(string); ok {
		return v
	}
	return ""
}

// GetStringDefault returns the value under key as a string, falling back to
// defaultVal when absent or empty.
func (s State) GetStringDefault(key, defaultVal string) string {
	if v, ok := s[key].(string); ok && v != "" {
		return v
	}
	return defaultVal
}

// GetInt returns the value under key as an int, handling the numeric types
// produced by JSON and YAML decoding.
func (s State) GetInt(key string) int {
	switch v := s[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// GetBool returns the value under key as a bool, or false.
func (s State) GetBool(key string) bool {
	if v, ok := s[key].(bool); ok {
		return v
	}
	return false
}

// GetFloat returns the value under key as a float64, or 0.
func (s State) GetFloat(key string) float64 {
	switch v := s[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// GetSlice returns the value under key as a []any, or nil.
func (s State) GetSlice(key string) []any {
	if v, ok := s[key].([]any); ok {
		return v
	}
	return nil
}

// GetMap returns the value under key as a map[string]any, or nil.
func (s State) GetMap(key string) map[string]any {
	if v, ok := s[key].(map[string]any); ok {
		return v
	}
	return nil
}

// Package fs provides the config accessor surface honored by backends and
// models, grounded in the teacher's fs.Config key/value lookup pattern
// (model/models/*/text_options.go reads config through a handful of typed
// getters keyed by dotted GGUF-style names). Here the config always comes
// from an in-memory map rather than a parsed file, since the safetensors/GGUF
// file format itself is out of this module's scope.
package fs

// Config is the read-only configuration surface a backend is constructed
// from. Every field spec.md §6 lists ("Model weights (consumed)") is reachable
// through one of these typed getters.
type Config interface {
	Uint(key string, defaults ...uint32) uint32
	Float(key string, defaults ...float32) float32
	String(key string, defaults ...string) string
	Strings(key string, defaults ...string) []string
	Bool(key string, defaults ...bool) bool
}

// MapConfig is the concrete in-memory Config used by the fake weight loader
// and by tests. Values are stored as the canonical Go type for their kind;
// a mismatched or absent key falls through to the caller-supplied default.
type MapConfig map[string]any

func (c MapConfig) Uint(key string, defaults ...uint32) uint32 {
	if v, ok := c[key]; ok {
		if u, ok := v.(uint32); ok {
			return u
		}
		if i, ok := v.(int); ok {
			return uint32(i)
		}
	}
	return firstOr(defaults, 0)
}

func (c MapConfig) Float(key string, defaults ...float32) float32 {
	if v, ok := c[key]; ok {
		if f, ok := v.(float32); ok {
			return f
		}
		if f, ok := v.(float64); ok {
			return float32(f)
		}
	}
	return firstOr(defaults, 0)
}

func (c MapConfig) String(key string, defaults ...string) string {
	if v, ok := c[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return firstOr(defaults, "")
}

func (c MapConfig) Strings(key string, defaults ...string) []string {
	if v, ok := c[key]; ok {
		if s, ok := v.([]string); ok {
			return s
		}
	}
	return defaults
}

func (c MapConfig) Bool(key string, defaults ...bool) bool {
	if v, ok := c[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return firstOr(defaults, false)
}

func firstOr[T any](vals []T, fallback T) T {
	if len(vals) > 0 {
		return vals[0]
	}
	return fallback
}

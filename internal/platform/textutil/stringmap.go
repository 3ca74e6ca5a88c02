package textutil

import "strings"

// MapOption adjusts how NormalizeStringMap treats entries.
type MapOption func(*mapOptions)

type mapOptions struct {
	lowerKeys bool
	dropEmpty bool
}

// LowercaseKeys folds keys to lower case so lookups ignore the case operators typed in config.
func LowercaseKeys() MapOption {
	return func(o *mapOptions) { o.lowerKeys = true }
}

// DropEmptyValues removes entries whose trimmed value is empty.
func DropEmptyValues() MapOption {
	return func(o *mapOptions) { o.dropEmpty = true }
}

// NormalizeStringMap trims keys, removing entries with empty keys. Values are kept verbatim so
// secret material is never altered. Nil is returned when nothing survives.
func NormalizeStringMap(values map[string]string, opts ...MapOption) map[string]string {
	if len(values) == 0 {
		return nil
	}
	var cfg mapOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if cfg.dropEmpty && strings.TrimSpace(value) == "" {
			continue
		}
		if cfg.lowerKeys {
			key = strings.ToLower(key)
		}
		result[key] = value
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

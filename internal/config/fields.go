package config

import (
	"reflect"
	"strings"

	"github.com/banshee-data/vanishcap/internal/monitoring"
)

// yamlFieldNames returns the yaml keys a struct pointer will consume,
// following anonymous embeds. Used to flag unrecognized worker options.
func yamlFieldNames(out any) []string {
	v := reflect.ValueOf(out)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return nil
	}
	return structYAMLKeys(v.Elem().Type())
}

func structYAMLKeys(t reflect.Type) []string {
	if t.Kind() != reflect.Struct {
		return nil
	}
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous {
			keys = append(keys, structYAMLKeys(f.Type)...)
			continue
		}
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("yaml")
		name, _, _ := strings.Cut(tag, ",")
		switch name {
		case "-":
			continue
		case "":
			// yaml.v3 lowercases untagged field names.
			name = strings.ToLower(f.Name)
		}
		keys = append(keys, name)
	}
	return keys
}

// ParseLevelOrDefault resolves a log_level string, treating empty as the
// package default.
func ParseLevelOrDefault(s string) (monitoring.Level, error) {
	return monitoring.ParseLevel(s)
}

// WorkerLevel resolves a worker's log level, falling back to the
// controller's when the worker does not set one. Validate rejects invalid
// levels; the warn fallback only covers unvalidated configs.
func (c *Config) WorkerLevel(w *WorkerOptions) monitoring.Level {
	s := w.LogLevel
	if s == "" {
		s = c.Controller.LogLevel
	}
	lvl, err := monitoring.ParseLevel(s)
	if err != nil {
		lvl = monitoring.LevelWarn
	}
	return lvl
}

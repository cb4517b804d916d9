package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// toTree renders cfg as the generic JSON tree the path accessors walk.
func toTree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetByPath reads a value by dot path, e.g. "retrieval.maxResults" or
// "general.failoverChain.0".
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := toTree(cfg)
	if err != nil {
		return nil, err
	}
	var current any = m
	for _, key := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid array index: %s", key)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot traverse into %T at %s", current, key)
		}
	}
	return current, nil
}

// SetByPath writes a value by dot path. The path must name a field of
// Config (map keys such as provider names are free). String values are
// parsed according to the field's type; list fields take a comma-separated
// string.
func SetByPath(cfg *Config, path string, value any) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	parts := strings.Split(path, ".")
	ft, err := fieldType(reflect.TypeOf(Config{}), parts)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	v, err := coerce(value, ft)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	m, err := toTree(cfg)
	if err != nil {
		return err
	}
	parent := m
	for _, key := range parts[:len(parts)-1] {
		child, ok := parent[key]
		if !ok {
			fresh := make(map[string]any)
			parent[key] = fresh
			parent = fresh
			continue
		}
		childMap, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot traverse into %T at %s", child, key)
		}
		parent = childMap
	}
	parent[parts[len(parts)-1]] = v

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

// fieldType resolves a dot path against json tags.
func fieldType(t reflect.Type, parts []string) (reflect.Type, error) {
	for i, key := range parts {
		switch t.Kind() {
		case reflect.Struct:
			f, ok := jsonField(t, key)
			if !ok {
				return nil, fmt.Errorf("unknown config key %q", strings.Join(parts[:i+1], "."))
			}
			t = f.Type
		case reflect.Map:
			t = t.Elem()
		default:
			return nil, fmt.Errorf("cannot traverse into %s at %s", t.Kind(), key)
		}
	}
	return t, nil
}

func jsonField(t reflect.Type, name string) (reflect.StructField, bool) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if tag == name {
			return f, true
		}
	}
	return reflect.StructField{}, false
}

// coerce converts a CLI string to a JSON value matching t.
func coerce(v any, t reflect.Type) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	switch t.Kind() {
	case reflect.String:
		return s, nil
	case reflect.Bool:
		return strconv.ParseBool(s)
	case reflect.Int, reflect.Int32, reflect.Int64:
		return strconv.ParseInt(s, 10, 64)
	case reflect.Float32, reflect.Float64:
		return strconv.ParseFloat(s, 64)
	case reflect.Slice:
		out := []any{}
		for _, item := range strings.Split(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot set a %s from the command line", t.Kind())
}

// Sanitize returns a copy of the config with secrets masked.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var out Config
	if err := json.Unmarshal(data, &out); err != nil {
		return cfg
	}

	for name, prov := range out.Providers {
		prov.APIKey = maskString(prov.APIKey)
		out.Providers[name] = prov
	}
	for _, secret := range []*string{
		&out.Embedding.APIKey,
		&out.VectorStore.APIKey,
		&out.Kapso.APIKey,
		&out.Kapso.WebhookSecret,
		&out.Notify.Telegram.Token,
		&out.Notify.Slack.BotToken,
		&out.Notify.Discord.Token,
		&out.Server.APIKey,
	} {
		*secret = maskString(*secret)
	}
	// Connection strings carry passwords.
	if out.Storage.DatabaseURL != "" {
		out.Storage.DatabaseURL = "***"
	}
	return &out
}

// maskString keeps the first and last 4 characters. Unexpanded ${VAR}
// references are not secrets and stay readable.
func maskString(s string) string {
	switch {
	case s == "", strings.HasPrefix(s, "${"):
		return s
	case len(s) <= 8:
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths flattens the config into dot paths and leaf values.
func ListPaths(cfg *Config) map[string]any {
	m, err := toTree(cfg)
	if err != nil {
		return nil
	}
	result := make(map[string]any)
	flatten("", m, result)
	return result
}

func flatten(prefix string, m map[string]any, result map[string]any) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok && len(child) > 0 {
			flatten(path, child, result)
			continue
		}
		result[path] = v
	}
}

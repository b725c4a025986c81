package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Settings are addressed by their JSON field names joined with dots,
// e.g. "reply.chance" or "providers.openai.apiKey".

// GetByPath returns the setting at path. Sections come back as maps.
func GetByPath(cfg *Config, path string) (any, error) {
	root, err := toTree(cfg)
	if err != nil {
		return nil, err
	}
	var cur any = root
	for _, key := range strings.Split(path, ".") {
		section, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: %q is not a section", path, key)
		}
		if cur, ok = section[key]; !ok {
			return nil, fmt.Errorf("unknown setting: %s", path)
		}
	}
	return cur, nil
}

// SetByPath parses raw into the type of the setting at path and stores it.
// Unknown settings are rejected; new provider entries are created on demand.
// List settings take a comma separated value.
func SetByPath(cfg *Config, path, raw string) error {
	root, err := toTree(cfg)
	if err != nil {
		return err
	}
	keys := strings.Split(path, ".")
	if len(keys) < 2 {
		return fmt.Errorf("%s: a setting path needs a section, e.g. reply.chance", path)
	}

	section := root
	for _, key := range keys[:len(keys)-1] {
		next, ok := section[key].(map[string]any)
		if !ok {
			if _, exists := section[key]; exists {
				return fmt.Errorf("%s: %q is not a section", path, key)
			}
			next = map[string]any{}
			section[key] = next
		}
		section = next
	}

	leaf := keys[len(keys)-1]
	var lastErr error
	for _, v := range candidates(section[leaf], raw) {
		section[leaf] = v
		updated, err := fromTree(root)
		if err == nil {
			*cfg = *updated
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("set %s: %w", path, lastErr)
}

// candidates lists the typed forms raw may take for the current value.
// Optional settings that are unset have no current value, so every
// plausible form is tried in turn.
func candidates(cur any, raw string) []any {
	switch cur.(type) {
	case string:
		return []any{raw}
	case bool:
		if b, err := strconv.ParseBool(raw); err == nil {
			return []any{b}
		}
		return []any{raw}
	case float64:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return []any{f}
		}
		return []any{raw}
	case []any:
		return []any{splitList(raw)}
	}

	var out []any
	if b, err := strconv.ParseBool(raw); err == nil {
		out = append(out, b)
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		out = append(out, f)
	}
	return append(out, raw, splitList(raw))
}

func splitList(raw string) []any {
	out := []any{}
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func toTree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	return root, nil
}

func fromTree(root map[string]any) (*Config, error) {
	data, err := json.Marshal(root)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ListPaths flattens cfg into "section.key" lines, sorted, one per setting.
func ListPaths(cfg *Config) ([]string, error) {
	root, err := toTree(cfg)
	if err != nil {
		return nil, err
	}
	var lines []string
	var walk func(prefix string, section map[string]any)
	walk = func(prefix string, section map[string]any) {
		for key, v := range section {
			path := prefix + key
			if sub, ok := v.(map[string]any); ok {
				walk(path+".", sub)
				continue
			}
			out, _ := json.Marshal(v)
			lines = append(lines, path+" = "+string(out))
		}
	}
	walk("", root)
	sort.Strings(lines)
	return lines, nil
}

// Sanitize returns a copy of cfg with the bot token, API keys and the
// database password masked.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.Providers = maps.Clone(cfg.Providers)
	for name, p := range out.Providers {
		if p.APIKey != "" {
			p.APIKey = maskString(p.APIKey)
			out.Providers[name] = p
		}
	}
	if out.Discord.Token != "" {
		out.Discord.Token = maskString(out.Discord.Token)
	}
	if out.Store.DSN != "" {
		out.Store.DSN = MaskDSN(out.Store.DSN)
	}
	return &out
}

// MaskDSN hides the password of a postgres URL or key/value DSN.
func MaskDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "***")
			return u.String()
		}
		return dsn
	}
	fields := strings.Fields(dsn)
	for i, f := range fields {
		if strings.HasPrefix(f, "password=") {
			fields[i] = "password=***"
		}
	}
	return strings.Join(fields, " ")
}

func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

package config

import (
	"encoding/json"
	"sort"
	"strings"
)

// SummarizeChange names the top-level sections that differ between old and
// next, e.g. "alerts,logging". It returns "initial" when old is nil.
func SummarizeChange(old, next *Config) string {
	if old == nil {
		return "initial"
	}
	if next == nil {
		return "none"
	}
	a := sections(old)
	b := sections(next)
	var changed []string
	for k, v := range b {
		if a[k] != v {
			changed = append(changed, k)
		}
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			changed = append(changed, k)
		}
	}
	if len(changed) == 0 {
		return "none"
	}
	sort.Strings(changed)
	return strings.Join(changed, ",")
}

func sections(cfg *Config) map[string]string {
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = string(v)
	}
	return out
}

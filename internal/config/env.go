package config

import "strings"

// Environment tiers, ordered from most to least dangerous. Detection scans
// in this order so "prod" wins over "staging" when both appear.
const (
	EnvProduction  = "production"
	EnvStaging     = "staging"
	EnvDevelopment = "development"
	EnvTesting     = "testing"
	EnvLocal       = "local"
)

// envKeywords maps each tier to the tokens that identify it. Matching is on
// word boundaries so "reproduction" does not read as production.
var envKeywords = []struct {
	env      string
	keywords []string
}{
	{EnvProduction, []string{"prod", "production", "live"}},
	{EnvStaging, []string{"stage", "staging", "stg", "preprod"}},
	{EnvTesting, []string{"test", "testing", "qa"}},
	{EnvDevelopment, []string{"dev", "development"}},
	{EnvLocal, []string{"local", "localhost"}},
}

// DetectEnv classifies a host record into an environment tier. An explicit
// Env field wins; otherwise name, host and tags are scanned for keywords.
// Returns "" when nothing matches.
func DetectEnv(rec *HostRecord) string {
	if rec.Env != "" {
		return strings.ToLower(rec.Env)
	}

	candidates := append([]string{rec.Name, rec.Host}, rec.Tags...)
	for _, entry := range envKeywords {
		for _, kw := range entry.keywords {
			for _, text := range candidates {
				if containsWord(strings.ToLower(text), kw) {
					return entry.env
				}
			}
		}
	}
	return ""
}

// containsWord reports whether word occurs in text delimited by the token
// separators commonly found in hostnames: start/end, '-', '_', '.', ':' and space.
func containsWord(text, word string) bool {
	start := 0
	for {
		idx := strings.Index(text[start:], word)
		if idx < 0 {
			return false
		}
		idx += start

		beforeOK := idx == 0 || isDelim(text[idx-1])
		afterIdx := idx + len(word)
		afterOK := afterIdx == len(text) || isDelim(text[afterIdx])
		if beforeOK && afterOK {
			return true
		}
		start = idx + 1
	}
}

func isDelim(b byte) bool {
	switch b {
	case '-', '_', '.', ':', ' ':
		return true
	}
	return false
}

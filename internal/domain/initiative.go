package domain

import "strings"

// LegacyInitiativeSeparator joined text and URL in older initiative strings.
const LegacyInitiativeSeparator = "|||"

// ParseLegacyInitiative splits "text|||url" into its parts. Strings without the
// separator become text-only initiatives.
func ParseLegacyInitiative(raw string) Initiative {
	text, url, found := strings.Cut(raw, LegacyInitiativeSeparator)
	if !found {
		return Initiative{Text: strings.TrimSpace(raw)}
	}
	return Initiative{Text: strings.TrimSpace(text), URL: strings.TrimSpace(url)}
}

// NormalizeInitiatives trims entries, drops empty ones and expands any legacy
// encoded text so the separator never reaches storage.
func NormalizeInitiatives(in []Initiative) []Initiative {
	out := make([]Initiative, 0, len(in))
	for _, it := range in {
		if it.URL == "" && strings.Contains(it.Text, LegacyInitiativeSeparator) {
			it = ParseLegacyInitiative(it.Text)
		}
		it.Text = strings.TrimSpace(it.Text)
		it.URL = strings.TrimSpace(it.URL)
		if it.Text == "" && it.URL == "" {
			continue
		}
		if it.Text == "" {
			it.Text = it.URL
		}
		out = append(out, it)
	}
	return out
}

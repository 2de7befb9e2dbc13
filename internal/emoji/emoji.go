// Package emoji normalizes workspace emoji listings into the shape the
// picker consumes: aliases resolved, every entry carrying a concrete image
// url, names unique and sorted.
package emoji

import (
	"sort"
	"strings"
)

const aliasPrefix = "alias:"

// Emoji is one custom workspace emoji. An alias points at another emoji's
// image instead of owning its own.
type Emoji struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	IsAlias  bool   `json:"isAlias"`
	AliasFor string `json:"aliasFor,omitempty"`
}

// FromSlackListing converts Slack's raw name->value map, where a value is
// either an image url or "alias:<target>".
func FromSlackListing(listing map[string]string) []Emoji {
	emojis := make([]Emoji, 0, len(listing))
	for name, value := range listing {
		if strings.HasPrefix(value, aliasPrefix) {
			emojis = append(emojis, Emoji{
				Name:     name,
				IsAlias:  true,
				AliasFor: strings.TrimPrefix(value, aliasPrefix),
			})
			continue
		}
		emojis = append(emojis, Emoji{Name: name, URL: value})
	}
	return emojis
}

// Normalize resolves aliases against the concrete emojis in the same
// snapshot, drops entries that end up without a url (missing alias target,
// alias chains), dedupes by name and sorts lexicographically.
func Normalize(emojis []Emoji) []Emoji {
	urls := make(map[string]string, len(emojis))
	for _, e := range emojis {
		if !e.IsAlias && e.URL != "" {
			urls[e.Name] = e.URL
		}
	}

	seen := make(map[string]bool, len(emojis))
	out := make([]Emoji, 0, len(emojis))
	for _, e := range emojis {
		if e.IsAlias && e.AliasFor != "" {
			e.URL = urls[e.AliasFor]
		}
		if e.URL == "" || seen[e.Name] {
			continue
		}
		seen[e.Name] = true
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

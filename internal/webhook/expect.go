package webhook

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Policy is a startItem policy: which items posted before a subscription
// exists the hub replays to it.
type Policy string

const (
	// Continue replays nothing; only items posted after registration arrive.
	Continue Policy = "continue"
	// Previous replays the most recent prior item(s).
	Previous Policy = "previous"
	// Earliest replays every item still in the channel.
	Earliest Policy = "earliest"
	// Exact replays the items posted after a given item URI.
	Exact Policy = "exact"
)

// ParsePolicy maps a configured start_item value to a Policy. An empty value
// is Continue.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", "none":
		return Continue, nil
	case Continue, Previous, Earliest, Exact:
		return p, nil
	}
	return "", fmt.Errorf("webhook: unknown start item policy %q", s)
}

// StartItem is a resolved startItem: the policy plus what it needs to pick
// the replayed items.
type StartItem struct {
	Policy Policy
	// ReplayCount is how many prior items Previous replays.
	ReplayCount int
	// Anchor is the item URI Exact starts after.
	Anchor string
}

// Value is the startItem value sent to the hub. Continue is sent as no
// value at all.
func (s StartItem) Value() string {
	switch s.Policy {
	case Continue:
		return ""
	case Exact:
		return s.Anchor
	}
	return string(s.Policy)
}

// Expect returns the item URIs a subscription must receive, in order, given
// the items seeded before registration and those inserted after it.
func Expect(start StartItem, seeded, inserted []string) []string {
	var replayed []string
	switch start.Policy {
	case Previous:
		replayed = seeded[max(len(seeded)-max(start.ReplayCount, 0), 0):]
	case Earliest:
		replayed = seeded
	case Exact:
		if i := slices.Index(seeded, start.Anchor); i >= 0 {
			replayed = seeded[i+1:]
		}
	}
	out := make([]string, 0, len(replayed)+len(inserted))
	out = append(out, replayed...)
	return append(out, inserted...)
}

// PayloadURIs maps one captured delivery body to the item URIs it
// references. JSON bodies contribute their "uris" list; anything else is
// taken as a single identity, its trimmed text.
func PayloadURIs(payload string) []string {
	var d struct {
		URIs []string `json:"uris"`
	}
	if err := json.Unmarshal([]byte(payload), &d); err == nil && d.URIs != nil {
		return d.URIs
	}
	return []string{strings.TrimSpace(payload)}
}

// Identities flattens captured payloads into the ordered item URIs they
// reference.
func Identities(payloads []string) []string {
	out := make([]string, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, PayloadURIs(p)...)
	}
	return out
}

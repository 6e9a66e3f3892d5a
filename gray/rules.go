// Package gray parses gray release targeting rules and matches clients
// against them. Rules are stored as JSON on the GrayReleaseRule row; the
// engine treats them as opaque, only the config-serving read path matches.
package gray

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// RuleItem targets one client application. IP and label entries are glob
// patterns; an item with neither matches every client of the app.
type RuleItem struct {
	ClientAppID     string   `json:"clientAppId"`
	ClientIPList    []string `json:"clientIpList"`
	ClientLabelList []string `json:"clientLabelList"`
}

// ParseRules decodes the serialized rule set. Empty input means no rules.
func ParseRules(raw string) ([]RuleItem, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var items []RuleItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("failed to parse gray release rules: %w", err)
	}
	return items, nil
}

type compiledItem struct {
	appID      string
	ipGlobs    []glob.Glob
	labelGlobs []glob.Glob
}

// Matcher holds a compiled rule set for repeated client matching.
type Matcher struct {
	items []compiledItem
}

func NewMatcher(raw string) (*Matcher, error) {
	items, err := ParseRules(raw)
	if err != nil {
		return nil, err
	}
	m := &Matcher{}
	for _, item := range items {
		ci := compiledItem{appID: item.ClientAppID}
		for _, pattern := range item.ClientIPList {
			g, err := glob.Compile(pattern, '.')
			if err != nil {
				return nil, fmt.Errorf("bad ip pattern %q: %w", pattern, err)
			}
			ci.ipGlobs = append(ci.ipGlobs, g)
		}
		for _, pattern := range item.ClientLabelList {
			g, err := glob.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("bad label pattern %q: %w", pattern, err)
			}
			ci.labelGlobs = append(ci.labelGlobs, g)
		}
		m.items = append(m.items, ci)
	}
	return m, nil
}

// MatchClient reports whether the client should be served the gray release.
// A client matches an item when the app id matches and either any ip
// pattern matches its ip or any label pattern matches its label; an item
// without patterns matches all clients of the app.
func (m *Matcher) MatchClient(clientAppID, clientIP, clientLabel string) bool {
	for _, item := range m.items {
		if !strings.EqualFold(item.appID, clientAppID) {
			continue
		}
		if len(item.ipGlobs) == 0 && len(item.labelGlobs) == 0 {
			return true
		}
		for _, g := range item.ipGlobs {
			if clientIP != "" && g.Match(clientIP) {
				return true
			}
		}
		for _, g := range item.labelGlobs {
			if clientLabel != "" && g.Match(clientLabel) {
				return true
			}
		}
	}
	return false
}

// Package provider defines the closed set of automation targets served by llmsession.
package provider

import (
	"errors"
	"fmt"
	"strings"
)

// Provider identifies one external chat interface driven through a browser session.
type Provider string

const (
	ChatGPT  Provider = "chatgpt"
	Claude   Provider = "claude"
	AIStudio Provider = "aistudio"
)

// Default is used when a request does not name a provider.
const Default = ChatGPT

// ErrUnknown is returned by Parse for identifiers outside the known set.
var ErrUnknown = errors.New("unknown provider")

var known = []Provider{ChatGPT, Claude, AIStudio}

// All returns every known provider in canonical order.
func All() []Provider {
	out := make([]Provider, len(known))
	copy(out, known)
	return out
}

// Parse converts a raw identifier into a Provider. An empty string yields Default.
func Parse(s string) (Provider, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return Default, nil
	}
	p := Provider(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknown, s)
	}
	return p, nil
}

// Valid reports whether p belongs to the known set.
func (p Provider) Valid() bool {
	for _, k := range known {
		if p == k {
			return true
		}
	}
	return false
}

func (p Provider) String() string {
	return string(p)
}

package browser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/harun/llmsession/pkg/provider"
)

// Profile describes how to drive one provider's chat page.
type Profile struct {
	Provider provider.Provider `json:"provider"`
	URL      string            `json:"url"`

	// InputSelector is the prompt box (textarea or contenteditable).
	InputSelector string `json:"input_selector"`
	// SendSelector is clicked to send; empty presses Enter instead.
	SendSelector string `json:"send_selector"`
	// ResponseSelector matches every assistant message; the last match is the reply.
	ResponseSelector string `json:"response_selector"`
	// BusySelector is present while a reply is being generated.
	BusySelector string `json:"busy_selector"`
	// LoginSelector is present when the page asks the user to sign in.
	LoginSelector string `json:"login_selector"`
}

var defaultProfiles = map[provider.Provider]Profile{
	provider.ChatGPT: {
		Provider:         provider.ChatGPT,
		URL:              "https://chatgpt.com/",
		InputSelector:    "#prompt-textarea",
		SendSelector:     "button[data-testid='send-button']",
		ResponseSelector: "div[data-message-author-role='assistant']",
		BusySelector:     "button[data-testid='stop-button']",
		LoginSelector:    "button[data-testid='login-button']",
	},
	provider.Claude: {
		Provider:         provider.Claude,
		URL:              "https://claude.ai/new",
		InputSelector:    "div[contenteditable='true']",
		SendSelector:     "button[aria-label='Send message']",
		ResponseSelector: "div.font-claude-response",
		BusySelector:     "button[aria-label='Stop response']",
		LoginSelector:    "input#email",
	},
	provider.AIStudio: {
		Provider:         provider.AIStudio,
		URL:              "https://aistudio.google.com/prompts/new_chat",
		InputSelector:    "ms-prompt-input-wrapper textarea",
		SendSelector:     "run-button button",
		ResponseSelector: "ms-chat-turn .model-prompt-container",
		BusySelector:     "run-button button .stop-icon",
		LoginSelector:    "input[type='email']",
	},
}

// DefaultProfile returns the built-in profile for p.
func DefaultProfile(p provider.Provider) (Profile, bool) {
	prof, ok := defaultProfiles[p]
	return prof, ok
}

// Merge returns prof with every non-empty field of override applied.
func (prof Profile) Merge(override Profile) Profile {
	if override.URL != "" {
		prof.URL = override.URL
	}
	if override.InputSelector != "" {
		prof.InputSelector = override.InputSelector
	}
	if override.SendSelector != "" {
		prof.SendSelector = override.SendSelector
	}
	if override.ResponseSelector != "" {
		prof.ResponseSelector = override.ResponseSelector
	}
	if override.BusySelector != "" {
		prof.BusySelector = override.BusySelector
	}
	if override.LoginSelector != "" {
		prof.LoginSelector = override.LoginSelector
	}
	return prof
}

// Validate checks the URL and the selectors a driver cannot work without.
func (prof Profile) Validate() error {
	u, err := url.Parse(prof.URL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s: invalid url %q", prof.Provider, prof.URL)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%s: url scheme %q is not allowed", prof.Provider, u.Scheme)
	}

	required := map[string]string{
		"input_selector":    prof.InputSelector,
		"response_selector": prof.ResponseSelector,
	}
	for name, sel := range required {
		if sel == "" {
			return fmt.Errorf("%s: %s is required", prof.Provider, name)
		}
	}
	for _, sel := range []string{prof.InputSelector, prof.SendSelector, prof.ResponseSelector, prof.BusySelector, prof.LoginSelector} {
		if sel != "" && !isValidSelector(sel) {
			return fmt.Errorf("%s: selector %q is not allowed", prof.Provider, sel)
		}
	}
	return nil
}

// isValidSelector rejects selectors that look like script injection.
func isValidSelector(selector string) bool {
	dangerous := []string{"<script", "javascript:", "onerror=", "onload="}
	lower := strings.ToLower(selector)
	for _, pattern := range dangerous {
		if strings.Contains(lower, pattern) {
			return false
		}
	}
	return true
}

// Package manifest provides loading and validation of analysis-request
// manifests.
//
// A manifest is a YAML or JSON file describing a repeatable analysis
// request: the call window, the participant and title filters, the analysis
// prompt, and optional routing overrides. The CLI accepts a manifest in
// place of individual flags.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	window:
//	  days: 14
//	filter:
//	  domains:
//	    - "*.acme.com"
//	  title: "renewal"
//	prompt: |
//	  Summarize each call and flag churn risk.
//	routing:
//	  direct_token_limit_k: 150
package manifest

import (
	"fmt"
	"time"

	"github.com/fathomtel/callsight/pkg/callsource"
)

// DefaultVersion is the current manifest schema version.
const DefaultVersion = "1.0"

// Manifest is a validated analysis request.
type Manifest struct {
	// Version is the manifest schema version. Must be "1.0"; empty is
	// normalized to the default.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// Window bounds the call listing. Optional; defaults to the service's
	// standard lookback.
	Window WindowConfig `json:"window,omitempty" yaml:"window,omitempty"`

	// Filter narrows the call listing. Optional.
	Filter FilterConfig `json:"filter,omitempty" yaml:"filter,omitempty"`

	// Prompt is the analysis instruction. Optional.
	Prompt string `json:"prompt,omitempty" yaml:"prompt,omitempty"`

	// Routing overrides deployment routing settings for this request.
	Routing RoutingConfig `json:"routing,omitempty" yaml:"routing,omitempty"`
}

// WindowConfig bounds the call listing. Days and the explicit From/To pair
// are mutually exclusive.
type WindowConfig struct {
	// From and To are dates ("2026-08-01") or RFC 3339 timestamps.
	From string `json:"from,omitempty" yaml:"from,omitempty"`
	To   string `json:"to,omitempty" yaml:"to,omitempty"`

	// Days is a lookback from now, as an alternative to From/To.
	Days int `json:"days,omitempty" yaml:"days,omitempty"`
}

// FilterConfig mirrors the call filter criteria.
type FilterConfig struct {
	CallIDs []string `json:"call_ids,omitempty" yaml:"call_ids,omitempty"`
	Emails  []string `json:"emails,omitempty" yaml:"emails,omitempty"`
	Domains []string `json:"domains,omitempty" yaml:"domains,omitempty"`
	Title   string   `json:"title,omitempty" yaml:"title,omitempty"`
}

// RoutingConfig overrides routing knobs per request. Nil pointers mean
// "use the deployment setting".
type RoutingConfig struct {
	// DirectTokenLimitK is the direct-mode threshold in thousands of
	// tokens; 0 or negative disables deferral.
	DirectTokenLimitK *int `json:"direct_token_limit_k,omitempty" yaml:"direct_token_limit_k,omitempty"`
}

// ApplyDefaults normalizes optional fields after loading.
func (m *Manifest) ApplyDefaults() {
	if m.Version == "" {
		m.Version = DefaultVersion
	}
}

// CallFilter converts the manifest filter into the call-source filter.
func (m *Manifest) CallFilter() callsource.Filter {
	return callsource.Filter{
		CallIDs:    m.Filter.CallIDs,
		Emails:     m.Filter.Emails,
		Domains:    m.Filter.Domains,
		TitleQuery: m.Filter.Title,
	}
}

// Range resolves the window into concrete bounds. Zero times mean "use the
// service default".
func (m *Manifest) Range(now time.Time) (from, to time.Time, err error) {
	w := m.Window
	if w.Days > 0 {
		return now.AddDate(0, 0, -w.Days), now, nil
	}
	if w.From != "" {
		from, err = parseDate(w.From)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("window.from: %w", err)
		}
	}
	if w.To != "" {
		to, err = parseDate(w.To)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("window.to: %w", err)
		}
	}
	return from, to, nil
}

// parseDate accepts a bare date or a full RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want 2006-01-02 or RFC 3339)", s)
	}
	return t, nil
}

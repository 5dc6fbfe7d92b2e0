package callsource

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter narrows a call listing before analysis. All populated criteria
// apply with AND semantics; within a criterion, values are OR'd. An empty
// filter passes everything through.
type Filter struct {
	// CallIDs restricts to specific calls.
	CallIDs []string

	// Emails restricts to calls with at least one participant whose
	// email matches exactly (case-insensitive).
	Emails []string

	// Domains restricts to calls with at least one participant whose
	// email domain matches. Glob patterns are supported, e.g. "acme.com"
	// or "*.acme.com".
	Domains []string

	// TitleQuery restricts by call title: a plain substring, or a glob
	// pattern when it contains metacharacters.
	TitleQuery string
}

// Empty reports whether the filter passes everything.
func (f Filter) Empty() bool {
	return len(f.CallIDs) == 0 && len(f.Emails) == 0 && len(f.Domains) == 0 && f.TitleQuery == ""
}

// Apply returns the calls matching the filter, preserving input order.
func (f Filter) Apply(calls []Call) []Call {
	if f.Empty() {
		return calls
	}

	idSet := make(map[string]struct{}, len(f.CallIDs))
	for _, id := range f.CallIDs {
		idSet[id] = struct{}{}
	}

	var out []Call
	for _, call := range calls {
		if len(idSet) > 0 {
			if _, ok := idSet[call.ID]; !ok {
				continue
			}
		}
		if (len(f.Emails) > 0 || len(f.Domains) > 0) && !f.matchParticipants(call) {
			continue
		}
		if f.TitleQuery != "" && !matchTitle(f.TitleQuery, call.Title) {
			continue
		}
		out = append(out, call)
	}
	return out
}

// matchParticipants reports whether any party satisfies the email or
// domain criteria.
func (f Filter) matchParticipants(call Call) bool {
	for _, party := range call.Parties {
		email := strings.ToLower(strings.TrimSpace(party.Email))
		if email == "" {
			continue
		}
		for _, want := range f.Emails {
			if email == strings.ToLower(strings.TrimSpace(want)) {
				return true
			}
		}
		if domain, ok := emailDomain(email); ok {
			for _, pattern := range f.Domains {
				if MatchDomain(pattern, domain) {
					return true
				}
			}
		}
	}
	return false
}

// emailDomain extracts the domain part of an address.
func emailDomain(email string) (string, bool) {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return "", false
	}
	return email[at+1:], true
}

// MatchDomain matches a domain against a pattern. Patterns without glob
// metacharacters match exactly; otherwise doublestar glob semantics apply.
// Matching is case-insensitive. Invalid patterns match nothing.
func MatchDomain(pattern, domain string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	domain = strings.ToLower(strings.TrimSpace(domain))
	if pattern == "" || domain == "" {
		return false
	}
	if !strings.ContainsAny(pattern, "*?[{") {
		return pattern == domain
	}
	ok, err := doublestar.Match(pattern, domain)
	return err == nil && ok
}

// matchTitle matches a call title against a query: substring for plain
// queries, glob for patterns.
func matchTitle(query, title string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	tl := strings.ToLower(title)
	if q == "" {
		return true
	}
	if !strings.ContainsAny(q, "*?[{") {
		return strings.Contains(tl, q)
	}
	ok, err := doublestar.Match(q, tl)
	return err == nil && ok
}

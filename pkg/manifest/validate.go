package manifest

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidationFailed indicates the manifest failed validation.
var ErrValidationFailed = errors.New("manifest validation failed")

// ValidationError represents a single validation issue.
type ValidationError struct {
	// Path locates the problematic field (e.g., "window.from").
	Path string

	// Message describes the validation failure.
	Message string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "manifest validation failed with %d errors:\n", len(e))
	for i, err := range e {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error type.
func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// Validate checks manifest consistency. Returns nil on success, or a
// ValidationErrors listing every failure.
func Validate(m *Manifest) error {
	var errs ValidationErrors

	if m.Version != "" && m.Version != DefaultVersion {
		errs = append(errs, ValidationError{
			Path:    "version",
			Message: fmt.Sprintf("unsupported version %q (supported: %q)", m.Version, DefaultVersion),
		})
	}

	w := m.Window
	if w.Days < 0 {
		errs = append(errs, ValidationError{Path: "window.days", Message: "must not be negative"})
	}
	if w.Days > 0 && (w.From != "" || w.To != "") {
		errs = append(errs, ValidationError{
			Path:    "window",
			Message: "days and from/to are mutually exclusive",
		})
	}
	if w.From != "" {
		if _, err := parseDate(w.From); err != nil {
			errs = append(errs, ValidationError{Path: "window.from", Message: err.Error()})
		}
	}
	if w.To != "" {
		if _, err := parseDate(w.To); err != nil {
			errs = append(errs, ValidationError{Path: "window.to", Message: err.Error()})
		}
	}
	if w.From != "" && w.To != "" {
		from, errF := parseDate(w.From)
		to, errT := parseDate(w.To)
		if errF == nil && errT == nil && from.After(to) {
			errs = append(errs, ValidationError{Path: "window", Message: "from is after to"})
		}
	}

	for i, d := range m.Filter.Domains {
		if strings.TrimSpace(d) == "" {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("filter.domains[%d]", i),
				Message: "must not be empty",
			})
		}
	}
	for i, e := range m.Filter.Emails {
		if !strings.Contains(e, "@") {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("filter.emails[%d]", i),
				Message: fmt.Sprintf("%q is not an email address", e),
			})
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

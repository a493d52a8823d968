package schema

import (
	"fmt"
	"strings"
)

// ValidationSeverity separates issues that block serving from advisory ones.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is one finding about a route graph. Path points into the
// graph, e.g. blocks[b1] or edges.
type ValidationIssue struct {
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s %s %s: %s", i.Severity, i.Code, i.Path, i.Message)
}

// ValidationResult is the report produced when checking a graph. Only
// errors stop a graph from being served.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityError})
}

func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityWarning})
}

// Issues lists errors first, then warnings.
func (r *ValidationResult) Issues() []ValidationIssue {
	out := make([]ValidationIssue, 0, len(r.Errors)+len(r.Warnings))
	out = append(out, r.Errors...)
	return append(out, r.Warnings...)
}

// Summary renders one issue per line.
func (r *ValidationResult) Summary() string {
	var b strings.Builder
	for _, i := range r.Issues() {
		b.WriteString(i.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// ToError returns nil for a valid report. Otherwise it returns a FlowError
// with code whose message names the first error and whose details carry
// the full report.
func (r *ValidationResult) ToError(code string) error {
	if r.Valid() {
		return nil
	}
	first := r.Errors[0]
	msg := first.Message
	if first.Path != "" {
		msg = first.Path + ": " + msg
	}
	if n := len(r.Errors); n > 1 {
		msg = fmt.Sprintf("%s (and %d more errors)", msg, n-1)
	}
	return NewError(code, msg).WithDetails(map[string]any{
		"error_count":   len(r.Errors),
		"warning_count": len(r.Warnings),
		"errors":        r.Errors,
		"warnings":      r.Warnings,
	})
}

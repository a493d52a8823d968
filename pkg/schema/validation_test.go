package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_EmptyIsValid(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())
}

func TestValidationResult_AddError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("blocks[b1].data", ErrCodeValidation, "missing name")

	assert.False(t, r.Valid())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "blocks[b1].data", r.Errors[0].Path)
	assert.Equal(t, ErrCodeValidation, r.Errors[0].Code)
	assert.Equal(t, "missing name", r.Errors[0].Message)
	assert.Equal(t, SeverityError, r.Errors[0].Severity)
}

func TestValidationResult_AddWarning(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("blocks[b2]", ErrCodeValidation, "block is unreachable")

	assert.True(t, r.Valid(), "warnings alone should not make result invalid")
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
}

func TestValidationResult_IssuesAndSummary(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("blocks[b2]", "UNREACHABLE", "block b2 is unreachable")
	r.AddError("blocks", "NO_RESPONSE", "no response block is reachable")

	issues := r.Issues()
	require.Len(t, issues, 2)
	assert.Equal(t, SeverityError, issues[0].Severity, "errors come first")
	assert.Equal(t, "error NO_RESPONSE blocks: no response block is reachable\n"+
		"warning UNREACHABLE blocks[b2]: block b2 is unreachable\n", r.Summary())
}

func TestValidationResult_ToError_Valid(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("/", ErrCodeValidation, "just a warning")
	assert.Nil(t, r.ToError(ErrCodeBuild))
}

func TestValidationResult_ToError_SingleError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("blocks", ErrCodeBuild, "no response block reachable")

	err := r.ToError(ErrCodeBuild)
	require.NotNil(t, err)

	var fe *FlowError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, ErrCodeBuild, fe.Code)
	assert.Equal(t, "blocks: no response block reachable", fe.Message)
	assert.Equal(t, 1, fe.Details["error_count"])
}

func TestValidationResult_ToError_MultipleErrors(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("/", ErrCodeValidation, "err1")
	r.AddError("/", ErrCodeValidation, "err2")
	r.AddWarning("/", ErrCodeValidation, "warn1")

	err := r.ToError(ErrCodeValidation)
	require.NotNil(t, err)

	var fe *FlowError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "/: err1 (and 1 more errors)", fe.Message)
	assert.Equal(t, 2, fe.Details["error_count"])
	assert.Equal(t, 1, fe.Details["warning_count"])
}

func TestFlowError_Format(t *testing.T) {
	err := NewErrorf(ErrCodeBlockRuntime, "bad input %d", 3).WithBlock("b7")
	assert.Equal(t, "[BLOCK_RUNTIME_ERROR] block b7: bad input 3", err.Error())

	plain := NewError(ErrCodeTimeout, "execution timed out")
	assert.Equal(t, "[TIMEOUT_ERROR] execution timed out", plain.Error())
}

func TestCodeOf_Wrapped(t *testing.T) {
	inner := NewError(ErrCodeLoopGuard, "too many iterations")
	wrapped := fmt.Errorf("walk: %w", inner)

	assert.Equal(t, ErrCodeLoopGuard, CodeOf(wrapped))
	assert.True(t, IsCode(wrapped, ErrCodeLoopGuard))
	assert.Equal(t, "", CodeOf(errors.New("plain")))
}

func TestPublicMessage_DropsCause(t *testing.T) {
	cause := errors.New("at /srv/app/script.js:12:4 (stack)")
	err := NewError(ErrCodeBlockRuntime, "script failed").WithBlock("js1").WithCause(cause)

	msg := PublicMessage(err)
	assert.Equal(t, "block js1: script failed", msg)
	assert.NotContains(t, msg, "/srv/app")

	assert.Equal(t, "internal error", PublicMessage(errors.New("secret path /etc")))
	assert.Equal(t, "", PublicMessage(nil))
}

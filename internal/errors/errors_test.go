package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := New(ErrCategoryQuery, CodeInvalidArgument, "negative limit")
	expected := "[QUERY:INVALID_ARGUMENT] negative limit"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("Parser Error: syntax error at or near \"FORM\"")
	err := NewEngineError("query failed", cause)
	expected := "[ENGINE:ENGINE_EXECUTION] query failed: Parser Error: syntax error at or near \"FORM\""
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := NewTransformError("all_prices", "bad leaf", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestError_Is(t *testing.T) {
	err1 := NewIdentifierError("name; DROP TABLE cards", "where")
	err2 := NewIdentifierError("other", "select")
	err3 := NewInvalidArgument("different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryView, CodeStaleViewConflict, true},
		{ErrCategoryArtifact, CodeDownloadFailed, true},
		{ErrCategoryArtifact, CodeArtifactNotFound, false},
		{ErrCategoryEngine, CodeEngineExecution, false},
		{ErrCategorySchema, CodeSchemaAmbiguity, false},
		{ErrCategoryTransform, CodeTransformFailure, false},
		{ErrCategoryQuery, CodeIdentifierNotAllowed, false},
		{ErrCategoryConfig, CodeInvalidConfig, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}
}

func TestGetCategoryAndCode(t *testing.T) {
	err := fmt.Errorf("ensure cards: %w", NewUnknownView("cards"))
	if GetCategory(err) != ErrCategoryView {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategoryView)
	}
	if !HasCode(err, CodeUnknownView) {
		t.Errorf("got %q, want %q", GetCode(err), CodeUnknownView)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" || GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("plain errors should return empty category and code")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(ErrCategorySchema, CodeSchemaAmbiguity, "downgraded")
	detailed := err.WithDetails(map[string]interface{}{"column": "colors"})
	more := detailed.WithDetails(map[string]interface{}{"relation": "cards"})

	if detailed.Details["column"] != "colors" {
		t.Error("WithDetails should set details")
	}
	if more.Detail("column") != "colors" || more.Detail("relation") != "cards" {
		t.Error("WithDetails should merge with existing details")
	}
	if err.Details != nil {
		t.Error("WithDetails should not modify original")
	}
	if _, ok := detailed.Details["relation"]; ok {
		t.Error("WithDetails should not modify its receiver's details")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cause := fmt.Errorf("io error")

	s := NewSchemaAmbiguity("cards", "colors", "storage type INTEGER cannot hold a list")
	if s.Category != ErrCategorySchema || s.Detail("column") != "colors" {
		t.Error("NewSchemaAmbiguity mismatch")
	}

	tr := NewTransformError("card_legalities", "bad status", cause)
	if tr.Category != ErrCategoryTransform || tr.Detail("view") != "card_legalities" || !errors.Is(tr, cause) {
		t.Error("NewTransformError mismatch")
	}

	id := NewIdentifierError("x", "order by")
	if id.Code != CodeIdentifierNotAllowed || id.Detail("clause") != "order by" {
		t.Error("NewIdentifierError mismatch")
	}

	st := NewStaleViewError("cards", "a", "b")
	if !st.Retryable || st.Detail("current_fingerprint") != "b" {
		t.Error("NewStaleViewError mismatch")
	}

	a := NewArtifactError(CodeDownloadFailed, "s3 down", cause)
	if a.Category != ErrCategoryArtifact || !a.Retryable {
		t.Error("NewArtifactError mismatch")
	}

	c := NewConfigError("bad")
	if c.Category != ErrCategoryConfig {
		t.Error("NewConfigError mismatch")
	}

	i := NewInternalError("unexpected", cause)
	if i.Category != ErrCategoryInternal || i.Code != CodeUnexpected {
		t.Error("NewInternalError mismatch")
	}
}

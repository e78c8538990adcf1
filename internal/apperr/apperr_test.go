package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestPredicates(t *testing.T) {
	base := errors.New("connection refused")
	tests := []struct {
		name     string
		err      error
		wantKind Kind
		wantCode string
	}{
		{"validation", Validation(CodeMissingFields, "agent_id is required"), KindValidation, CodeMissingFields},
		{"validation default code", Validation("", "bad"), KindValidation, CodeInvalidInput},
		{"not found", NotFound("behavior", "b-1"), KindNotFound, CodeNotFound},
		{"upstream", Upstream("generate", base), KindUpstream, CodeUpstream},
		{"persistence", Persistence("insert run", base), KindPersistence, CodePersistence},
		{"wrapped", fmt.Errorf("run behavior: %w", NotFound("agent", "a-1")), KindNotFound, CodeNotFound},
		{"plain", base, KindInternal, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.wantKind {
				t.Errorf("KindOf = %v, want %v", got, tt.wantKind)
			}
			if got := CodeOf(tt.err); got != tt.wantCode {
				t.Errorf("CodeOf = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestCodeOf_Nil(t *testing.T) {
	if got := CodeOf(nil); got != "" {
		t.Errorf("CodeOf(nil) = %q, want empty", got)
	}
}

func TestWithCode_KeepsKindAndCause(t *testing.T) {
	base := errors.New("HTTP 502")
	e := Upstream("generate", base).WithCode(CodeExecutionFailed)

	if !IsUpstream(e) {
		t.Error("WithCode should keep the upstream kind")
	}
	if CodeOf(e) != CodeExecutionFailed {
		t.Errorf("code = %q, want %q", CodeOf(e), CodeExecutionFailed)
	}
	if !errors.Is(e, base) {
		t.Error("WithCode should keep the wrapped cause")
	}
}

func TestError_Message(t *testing.T) {
	e := Persistence("insert run", errors.New("disk full"))
	if got, want := e.Error(), "insert run: disk full"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	nf := NotFound("agent", "agent_x")
	if got, want := nf.Error(), `agent "agent_x" not found`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

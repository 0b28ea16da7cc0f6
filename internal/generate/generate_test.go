package generate

import (
	"errors"
	"testing"

	"runner/pkg/backend"
)

func TestOnceRoundTripsThroughMock(t *testing.T) {
	got := Once(backend.NewMock(), "hello", 16)
	if got != "hello" {
		t.Fatalf("Once = %q, want %q", got, "hello")
	}
}

func TestOnceEmptyPromptReturnsEmpty(t *testing.T) {
	got := Once(backend.NewMock(), "", 16)
	if got != "" {
		t.Fatalf("Once(\"\") = %q, want empty string", got)
	}
}

type brokenBackend struct{ *backend.Mock }

func (brokenBackend) Tokenize(string) ([]int32, error) {
	return nil, errors.New("tokenizer unavailable")
}

func (brokenBackend) Detokenize([]int32) (string, error) {
	return "", errors.New("detokenize failed")
}

func TestOnceFallsBackOnBackendError(t *testing.T) {
	got := Once(brokenBackend{}, "the original prompt", 8)
	if got != "" {
		t.Fatalf("Once with broken backend = %q, want fallback to empty string", got)
	}
}

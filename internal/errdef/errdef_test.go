package errdef

import (
	"errors"
	"io/fs"
	"testing"
)

func TestWrapKeepsCauseAndCode(t *testing.T) {
	err := Wrap(CodeFilesystem, fs.ErrNotExist, "read %s", "history.json")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected wrapped error to unwrap to fs.ErrNotExist")
	}
	if CodeOf(err) != CodeFilesystem {
		t.Fatalf("expected filesystem code, got %q", CodeOf(err))
	}
	if got := err.Error(); got != "read history.json: file does not exist" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(CodeHTTP, nil, "ignored") != nil {
		t.Fatalf("expected nil when wrapping nil")
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if CodeOf(errors.New("boom")) != CodeUnknown {
		t.Fatalf("expected unknown code for plain error")
	}
	if !Is(New(CodeScript, "bad"), CodeScript) {
		t.Fatalf("expected Is to match script code")
	}
}

func TestMessageFlattensLines(t *testing.T) {
	err := New(CodeHTTP, "first\nsecond")
	if got := Message(err); got != "first second" {
		t.Fatalf("unexpected message %q", got)
	}
	if Message(nil) != "" {
		t.Fatalf("expected empty message for nil")
	}
}

package ui

import (
	"bytes"
	"strings"
	"testing"
)

func newTestUI() (*UI, *bytes.Buffer, *bytes.Buffer) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	u := New(out, errOut)
	return u, out, errOut
}

func TestNew_NonTTY(t *testing.T) {
	u, _, _ := newTestUI()
	if u.IsTTY() {
		t.Error("expected IsTTY() to be false for bytes.Buffer")
	}
}

func TestHeader(t *testing.T) {
	u, out, _ := newTestUI()
	u.Header("odcsd serving")
	got := out.String()
	if !strings.Contains(got, "==> odcsd serving") {
		t.Errorf("Header output = %q, want to contain %q", got, "==> odcsd serving")
	}
}

func TestSuccess(t *testing.T) {
	u, out, _ := newTestUI()
	u.Success("Database schema is up to date")
	got := out.String()
	// Non-TTY uses "ok" prefix.
	if !strings.Contains(got, "  ok Database schema is up to date") {
		t.Errorf("Success output = %q, want to contain %q", got, "  ok Database schema is up to date")
	}
}

func TestKeyval(t *testing.T) {
	u, out, _ := newTestUI()
	u.Keyval("listen", ":8080")
	got := out.String()
	if !strings.Contains(got, "listen") || !strings.Contains(got, ":8080") {
		t.Errorf("Keyval output = %q, want to contain key and value", got)
	}
	// Verify indentation.
	if !strings.HasPrefix(got, "  ") {
		t.Errorf("Keyval output should start with two spaces, got %q", got)
	}
}

func TestError(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Error("something failed")
	got := errOut.String()
	if !strings.Contains(got, "error: something failed") {
		t.Errorf("Error output = %q, want to contain %q", got, "error: something failed")
	}
}

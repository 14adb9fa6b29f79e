package relay

import (
	"errors"
	"strings"
	"testing"
)

func TestNotFoundErrorMessage(t *testing.T) {
	err := &NotFoundError{Kind: "notebook", Name: "Work"}
	if got := err.Error(); got != `notebook "Work" not found` {
		t.Fatalf("unexpected message: %s", got)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("NotFoundError must match ErrNotFound")
	}
}

func TestAmbiguousNameErrorCarriesIDs(t *testing.T) {
	err := &AmbiguousNameError{Kind: "section", Name: "Notes", MatchedIDs: []string{"s1", "s2"}}
	msg := err.Error()
	for _, want := range []string{"section", `"Notes"`, "s1", "s2"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
}

func TestUpstreamErrorNotFoundMapping(t *testing.T) {
	if !errors.Is(&UpstreamError{StatusCode: 404, Message: "gone"}, ErrNotFound) {
		t.Fatal("404 upstream error should match ErrNotFound")
	}
	if errors.Is(&UpstreamError{StatusCode: 502, Message: "bad gateway"}, ErrNotFound) {
		t.Fatal("non-404 upstream error must not match ErrNotFound")
	}
}

package internal

import (
	"strings"
	"testing"
)

func TestNewOpaqueTokenShape(t *testing.T) {
	token, err := NewOpaqueToken()
	if err != nil {
		t.Fatalf("token generation failed: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("expected 64 characters, got %d", len(token))
	}
	if strings.ContainsAny(token, "+/=") {
		t.Fatalf("token is not url-safe: %q", token)
	}
}

func TestNewOpaqueTokenUniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		token, err := NewOpaqueToken()
		if err != nil {
			t.Fatalf("token generation failed: %v", err)
		}
		if _, dup := seen[token]; dup {
			t.Fatalf("duplicate token after %d draws", i)
		}
		seen[token] = struct{}{}
	}
}

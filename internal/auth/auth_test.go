package auth

import (
	"context"
	"net/http/httptest"
	"testing"
)

func TestTokenAuthenticator(t *testing.T) {
	a := NewTokenAuthenticator([]SessionToken{
		{TokenHash: HashToken("cg_secret_one"), Email: "one@school.edu"},
		{TokenHash: HashToken("cg_secret_two"), Email: "two@school.edu"},
	})

	email, err := a.Authenticate("cg_secret_one")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if email != "one@school.edu" {
		t.Errorf("email = %q, want one@school.edu", email)
	}

	if _, err := a.Authenticate("cg_wrong"); err == nil {
		t.Error("unknown token should not authenticate")
	}
	if _, err := a.Authenticate(""); err == nil {
		t.Error("empty token should not authenticate")
	}
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"bearer token", "Bearer cg_abc", "cg_abc", false},
		{"case-insensitive scheme", "bearer cg_abc", "cg_abc", false},
		{"missing header", "", "", true},
		{"no scheme", "cg_abc", "", true},
		{"wrong scheme", "Basic dXNlcg==", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractToken(r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("token = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHashToken_Deterministic(t *testing.T) {
	if HashToken("x") != HashToken("x") {
		t.Error("hash should be deterministic")
	}
	if HashToken("x") == HashToken("y") {
		t.Error("different tokens should hash differently")
	}
	if len(HashToken("x")) != 64 {
		t.Errorf("hash length = %d, want 64 hex characters", len(HashToken("x")))
	}
}

func TestEmailContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := EmailFromContext(ctx); ok {
		t.Error("empty context should carry no email")
	}

	ctx = WithEmail(ctx, "user@school.edu")
	email, ok := EmailFromContext(ctx)
	if !ok || email != "user@school.edu" {
		t.Errorf("EmailFromContext = (%q, %v)", email, ok)
	}

	if _, ok := EmailFromContext(WithEmail(context.Background(), "")); ok {
		t.Error("empty email should read as absent")
	}
}

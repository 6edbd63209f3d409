package main

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"prism-kanban/api"
)

func TestSignedTokensPassLocalAuth(t *testing.T) {
	signer := tokenSigner{secret: []byte("s3cret"), ttl: time.Hour, now: time.Now}
	tok, err := signer.sign("alice")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	auth := api.NewAuth(nil, api.AuthOptions{TestSecret: []byte("s3cret")})
	user, err := auth.UserIDFromAuthHeader("Bearer " + tok)
	if err != nil || user != "alice" {
		t.Fatalf("user=%q err=%v", user, err)
	}

	expired := tokenSigner{secret: []byte("s3cret"), ttl: time.Minute, now: func() time.Time {
		return time.Now().Add(-time.Hour)
	}}
	old, err := expired.sign("alice")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.UserIDFromToken(old); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestUserIDs(t *testing.T) {
	if got := userIDs(3, "u", 5, nil); !slices.Equal(got, []string{"u-5", "u-6", "u-7"}) {
		t.Fatalf("numbered ids = %v", got)
	}
	if got := userIDs(1, "u", 1, []string{"bob"}); !slices.Equal(got, []string{"bob"}) {
		t.Fatalf("explicit id = %v", got)
	}
	if got := userIDs(1, "u", 1, nil); !slices.Equal(got, []string{"u"}) {
		t.Fatalf("single id = %v", got)
	}
}

func TestSharedSecret(t *testing.T) {
	env := map[string]string{"TEST_JWT_SECRET": "b", "LOCAL_AUTH_SHARED_SECRET": "a"}
	if s, err := sharedSecret(func(k string) string { return env[k] }); err != nil || s != "a" {
		t.Fatalf("secret=%q err=%v", s, err)
	}
	if _, err := sharedSecret(func(string) string { return "" }); err == nil {
		t.Fatal("missing secret accepted")
	}
}

func TestWriteTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	if err := writeTokens(path, []string{"a", "b"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got []string
	if err := sonic.Unmarshal(data, &got); err != nil || !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("tokens=%v err=%v", got, err)
	}
}

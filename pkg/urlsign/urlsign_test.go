package urlsign_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shashiranjanraj/filestore/pkg/urlsign"
)

var secret = []byte("test-secret")

func TestSignAndVerify(t *testing.T) {
	tok, err := urlsign.Sign(secret, "local", "a/b.txt", time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	claims, err := urlsign.Verify(secret, tok, "local", "a/b.txt")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Disk != "local" || claims.Path != "a/b.txt" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestVerify_Rejects(t *testing.T) {
	tok, _ := urlsign.Sign(secret, "local", "a/b.txt", time.Minute)
	expired, _ := urlsign.Sign(secret, "local", "a/b.txt", -time.Minute)

	cases := map[string]struct {
		secret []byte
		token  string
		disk   string
		path   string
	}{
		"other path":  {secret, tok, "local", "a/c.txt"},
		"other disk":  {secret, tok, "remote", "a/b.txt"},
		"wrong key":   {[]byte("nope"), tok, "local", "a/b.txt"},
		"expired":     {secret, expired, "local", "a/b.txt"},
		"not a token": {secret, "garbage", "local", "a/b.txt"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := urlsign.Verify(tc.secret, tc.token, tc.disk, tc.path)
			if !errors.Is(err, urlsign.ErrInvalidSignature) {
				t.Errorf("expected ErrInvalidSignature, got %v", err)
			}
		})
	}
}

func TestSign_EmptyKey(t *testing.T) {
	if _, err := urlsign.Sign(nil, "local", "a", time.Minute); err == nil {
		t.Fatal("expected error for empty key")
	}
}

package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tinode/pairchat/server/store/types"
)

func newTestAuth(t *testing.T, serial int) *Authenticator {
	t.Helper()
	conf, _ := json.Marshal(map[string]interface{}{
		"key":        bytes.Repeat([]byte{0x5a}, 32),
		"serial_num": serial,
		"expire_in":  3600,
	})
	ta, err := New(conf)
	if err != nil {
		t.Fatal(err)
	}
	return ta
}

func TestNewInvalidConfig(t *testing.T) {
	cases := []string{
		`{"key": "c2hvcnQ=", "expire_in": 10}`,
		`{"key": "` + string(bytes.Repeat([]byte("QUFB"), 12)) + `", "expire_in": 0}`,
		`not json`,
	}
	for _, conf := range cases {
		if _, err := New(json.RawMessage(conf)); err == nil {
			t.Errorf("New(%s): expected error", conf)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	ta := newTestAuth(t, 1)
	for _, user := range []types.UserToken{"u1", "with:separators,[]", types.UserToken(bytes.Repeat([]byte{'x'}, types.MaxTokenLength))} {
		secret, expires, err := ta.GenSecret(user, 0)
		if err != nil {
			t.Fatal(err)
		}
		sess, err := ta.Authenticate(secret)
		if err != nil {
			t.Fatalf("Authenticate(%q): %v", user, err)
		}
		if sess.User != user {
			t.Errorf("user: got %q, want %q", sess.User, user)
		}
		if !sess.Expires.Equal(expires) {
			t.Errorf("expires: got %v, want %v", sess.Expires, expires)
		}
	}
}

func TestAuthenticateRejects(t *testing.T) {
	ta := newTestAuth(t, 1)
	secret, _, err := ta.GenSecret("u1", 0)
	if err != nil {
		t.Fatal(err)
	}

	tampered := append([]byte{}, secret...)
	tampered[2] ^= 0xff
	if _, err := ta.Authenticate(tampered); !errors.Is(err, ErrFailed) {
		t.Errorf("tampered: expected ErrFailed, got %v", err)
	}

	if _, err := ta.Authenticate(secret[:10]); !errors.Is(err, ErrMalformed) {
		t.Errorf("short: expected ErrMalformed, got %v", err)
	}

	if _, err := newTestAuth(t, 2).Authenticate(secret); !errors.Is(err, ErrFailed) {
		t.Errorf("serial: expected ErrFailed, got %v", err)
	}

	short, _, err := ta.GenSecret("u1", time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ta.Authenticate(short); !errors.Is(err, ErrExpired) {
		t.Errorf("expired: expected ErrExpired, got %v", err)
	}
}

func TestGenSecretInvalid(t *testing.T) {
	ta := newTestAuth(t, 0)
	if _, _, err := ta.GenSecret("", 0); !errors.Is(err, ErrMalformed) {
		t.Errorf("empty user: expected ErrMalformed, got %v", err)
	}
	if _, _, err := ta.GenSecret("u1", -time.Second); !errors.Is(err, ErrExpired) {
		t.Errorf("negative lifetime: expected ErrExpired, got %v", err)
	}
}

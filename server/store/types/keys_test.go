package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
)

func TestChannelKeyCommutative(t *testing.T) {
	pairs := [][2]UserToken{
		{"u1", "u2"},
		{"alice", "bob"},
		{"a", "aa"},
		{"", "x"},
		{"same", "same"},
		{"Ünïcødé", "ascii"},
		{"with,comma", "[brackets]"},
	}
	for _, p := range pairs {
		if ChannelKeyOf(p[0], p[1]) != ChannelKeyOf(p[1], p[0]) {
			t.Errorf("ChannelKeyOf(%q, %q) is not commutative", p[0], p[1])
		}
	}
}

func TestChannelKeyNoCollisions(t *testing.T) {
	// Tokens built from characters which break a naive "[a, b]" rendering.
	alphabet := []string{"", "a", "b", ",", " ", "[", "]", ", ", "a, b", "a,", ",b", "\x00", "p2p"}
	var tokens []UserToken
	for _, x := range alphabet {
		for _, y := range alphabet {
			if tok := UserToken(x + y); tok != "" {
				tokens = append(tokens, tok)
			}
		}
	}

	seen := make(map[ChannelKey]string)
	for i := range tokens {
		for j := i; j < len(tokens); j++ {
			a, b := tokens[i], tokens[j]
			if b < a {
				a, b = b, a
			}
			pair := fmt.Sprintf("%q|%q", a, b)
			key := ChannelKeyOf(a, b)
			if prev, ok := seen[key]; ok && prev != pair {
				t.Fatalf("collision: %s and %s both map to %s", prev, pair, key)
			}
			seen[key] = pair
		}
	}
}

func TestParseChannelKey(t *testing.T) {
	key := ChannelKeyOf("u2", "u1")
	if !strings.HasPrefix(string(key), "p2p") {
		t.Errorf("key %q has no p2p prefix", key)
	}

	a, b, err := ParseChannelKey(key)
	if err != nil {
		t.Fatal(err)
	}
	if a != "u1" || b != "u2" {
		t.Errorf("ParseChannelKey: got (%q, %q), want (u1, u2)", a, b)
	}
	if !key.Includes("u1") || !key.Includes("u2") {
		t.Error("key must include both participants")
	}
	if key.Includes("u") || key.Includes("u12") {
		t.Error("key must not include other users")
	}

	for _, bad := range []ChannelKey{"", "p2p", "grpabc", "p2p!!!", ChannelKey("p2p" + encodePair("z", "a"))} {
		if _, _, err := ParseChannelKey(bad); !errors.Is(err, ErrMalformed) {
			t.Errorf("ParseChannelKey(%q): expected ErrMalformed, got %v", bad, err)
		}
		if bad.IsValid() {
			t.Errorf("%q must not be valid", bad)
		}
	}
}

func TestMembershipIDOrdered(t *testing.T) {
	if MembershipID("a", "b") == MembershipID("b", "a") {
		t.Error("membership ids of the two sides must differ")
	}
	if MembershipID("ab", "c") == MembershipID("a", "bc") {
		t.Error("membership id must be injective")
	}
}

func TestUserTokenValidate(t *testing.T) {
	if err := UserToken("").Validate(); err != ErrMalformed {
		t.Error("empty token must be rejected")
	}
	if err := UserToken(strings.Repeat("x", MaxTokenLength+1)).Validate(); err != ErrMalformed {
		t.Error("long token must be rejected")
	}
	if err := UserToken("u1").Validate(); err != nil {
		t.Error(err)
	}
}

func TestNewChannel(t *testing.T) {
	ch := NewChannel("u2", "u1")
	if ch.Key != ChannelKeyOf("u1", "u2") {
		t.Errorf("unexpected key %q", ch.Key)
	}
	if !sort.SliceIsSorted(ch.Participants, func(i, j int) bool { return ch.Participants[i] < ch.Participants[j] }) {
		t.Errorf("participants not sorted: %v", ch.Participants)
	}
	if len(ch.Participants) != 2 || ch.Participants[0] != "u1" || ch.Participants[1] != "u2" {
		t.Errorf("unexpected participants %v", ch.Participants)
	}
	if !ch.SameAs(NewChannel("u1", "u2")) {
		t.Error("channels for the same pair must match")
	}
	if ch.SameAs(NewChannel("u1", "u3")) {
		t.Error("channels for different pairs must not match")
	}
}

package main

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tinode/pairchat/server/db/memory"
	"github.com/tinode/pairchat/server/store"
	"github.com/tinode/pairchat/server/store/types"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	adp := memory.New()
	if err := adp.Open(nil); err != nil {
		t.Fatal(err)
	}
	st, err := store.New(adp, store.Options{UidKey: []byte("0123456789abcdef")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestGenDb(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	data := &Data{
		Users: []User{
			{Token: "alice", Name: "Alice", CreatedAt: "-10h"},
			{Token: "bob", Name: "Bob"},
			{Token: "carol", Name: "Carol"},
		},
		Channels: []Channel{{"alice", "bob"}, {"bob", "alice"}, {"carol", "alice"}},
		Messages: []string{"one", "two"},

		MessagesPerChannel: 3,
	}
	if err := genDb(ctx, st, data); err != nil {
		t.Fatal(err)
	}

	alice, err := st.Users.Get(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if alice.Name != "Alice" || time.Since(alice.CreatedAt) < 9*time.Hour {
		t.Errorf("unexpected user %+v", alice)
	}

	keys, err := st.Channels.List(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	want := []types.ChannelKey{types.ChannelKeyOf("alice", "bob"), types.ChannelKeyOf("alice", "carol")}
	if len(keys) != 2 || !cmp.Equal(map[types.ChannelKey]bool{keys[0]: true, keys[1]: true},
		map[types.ChannelKey]bool{want[0]: true, want[1]: true}) {
		t.Errorf("unexpected channels %v", keys)
	}

	// Repeated pair produces a single channel.
	msgs, err := st.Messages.List(ctx, types.ChannelKeyOf("alice", "bob"))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, msg := range msgs {
		if msg.SeqId != i+1 {
			t.Errorf("message %d: seq %d", i, msg.SeqId)
		}
	}
}

func TestGenDbUnknownUser(t *testing.T) {
	st := newStore(t)
	data := &Data{
		Users:    []User{{Token: "alice"}},
		Channels: []Channel{{"alice", "ghost"}},
	}
	if err := genDb(context.Background(), st, data); err == nil {
		t.Error("expected error for channel with unknown user")
	}
}

func TestGenDbEmpty(t *testing.T) {
	if err := genDb(context.Background(), newStore(t), &Data{}); err != nil {
		t.Error(err)
	}
}

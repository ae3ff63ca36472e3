package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tinode/pairchat/server/db/memory"
	"github.com/tinode/pairchat/server/metrics"
	"github.com/tinode/pairchat/server/store"
	"github.com/tinode/pairchat/server/store/types"
)

var testKey = []byte("0123456789abcdef")

func newStore(t *testing.T) (*store.Store, *metrics.Metrics) {
	t.Helper()
	adp := memory.New()
	if err := adp.Open(nil); err != nil {
		t.Fatal(err)
	}
	m := metrics.New(prometheus.NewRegistry())
	st, err := store.New(adp, store.Options{
		UidKey:       testKey,
		RetryBackoff: time.Millisecond,
		Metrics:      m,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st, m
}

func addUsers(t *testing.T, st *store.Store, tokens ...types.UserToken) {
	t.Helper()
	for _, tok := range tokens {
		if _, err := st.Users.CreateIfAbsent(context.Background(), &types.User{Token: tok, Name: string(tok)}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestOpen(t *testing.T) {
	conf := json.RawMessage(`{
		"uid_key": "la6YsO+bNX/+XIkOqc5Svw==",
		"use_adapter": "memory",
		"membership_retries": 2,
		"adapters": {"memory": {}}
	}`)
	st, err := store.Open(1, conf, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	if st.GetAdapterName() != "memory" {
		t.Errorf("adapter name: got %s", st.GetAdapterName())
	}
	if _, err := store.Open(1, conf, nil); err == nil {
		t.Error("opening an open adapter should fail")
	}
}

func TestOpenUnknownAdapter(t *testing.T) {
	if _, err := store.Open(1, json.RawMessage(`{"use_adapter": "cassandra"}`), nil); err == nil {
		t.Error("expected error for unknown adapter")
	}
	if _, err := store.Open(1, json.RawMessage(`{bad json`), nil); err == nil {
		t.Error("expected error for invalid config")
	}
}

func TestNewInvalidOptions(t *testing.T) {
	adp := memory.New()
	if _, err := store.New(adp, store.Options{UidKey: testKey}); err == nil {
		t.Error("New must reject a closed adapter")
	}
	adp.Open(nil)
	defer adp.Close()
	if _, err := store.New(adp, store.Options{UidKey: []byte("short")}); err == nil {
		t.Error("New must reject an invalid uid key")
	}
	if _, err := store.New(adp, store.Options{WorkerID: 5000, UidKey: testKey}); err == nil {
		t.Error("New must reject an invalid worker id")
	}
}

func TestUsersCreateIfAbsent(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()

	usr, err := st.Users.CreateIfAbsent(ctx, &types.User{Token: "u1", Name: "First"})
	if err != nil {
		t.Fatal(err)
	}
	if usr.Name != "First" || usr.CreatedAt.IsZero() {
		t.Errorf("unexpected user %+v", usr)
	}

	// Existing record is returned and not overwritten.
	usr, err = st.Users.CreateIfAbsent(ctx, &types.User{Token: "u1", Name: "Second"})
	if err != nil {
		t.Fatal(err)
	}
	if usr.Name != "First" {
		t.Errorf("existing user overwritten: %+v", usr)
	}

	if _, err := st.Users.CreateIfAbsent(ctx, &types.User{}); !errors.Is(err, types.ErrMalformed) {
		t.Errorf("empty token: got %v want %v", err, types.ErrMalformed)
	}
	if _, err := st.Users.CreateIfAbsent(ctx, nil); !errors.Is(err, types.ErrMalformed) {
		t.Errorf("nil user: got %v want %v", err, types.ErrMalformed)
	}
}

func TestUsersCreateIfAbsentConcurrent(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()

	const count = 16
	names := make(chan string, count)
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			usr, err := st.Users.CreateIfAbsent(ctx, &types.User{Token: "u1", Name: string(rune('A' + i))})
			if err != nil {
				t.Error(err)
				return
			}
			names <- usr.Name
		}(i)
	}
	wg.Wait()
	close(names)

	stored, err := st.Users.Get(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	for name := range names {
		if name != stored.Name {
			t.Errorf("caller got %q, stored %q", name, stored.Name)
		}
	}
}

func TestUsersGet(t *testing.T) {
	st, _ := newStore(t)
	addUsers(t, st, "u1")

	if _, err := st.Users.Get(context.Background(), "nobody"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("got %v want %v", err, types.ErrNotFound)
	}
	usr, err := st.Users.Get(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if usr.Token != "u1" {
		t.Errorf("unexpected user %+v", usr)
	}
}

func TestGetOrCreate(t *testing.T) {
	st, m := newStore(t)
	ctx := context.Background()
	addUsers(t, st, "u1", "u2")

	key, err := st.Channels.GetOrCreate(ctx, "u1", "u2")
	if err != nil {
		t.Fatal(err)
	}
	if key != types.ChannelKeyOf("u1", "u2") {
		t.Errorf("unexpected key %s", key)
	}

	// Both index entries exist.
	for _, pair := range [][2]types.UserToken{{"u1", "u2"}, {"u2", "u1"}} {
		mbr, err := st.Adapter().MembershipGet(ctx, pair[0], pair[1])
		if err != nil {
			t.Fatal(err)
		}
		if mbr == nil || mbr.Channel != key {
			t.Errorf("membership %s->%s: %+v", pair[0], pair[1], mbr)
		}
	}

	// Repeated and reversed calls return the same key and create nothing.
	again, err := st.Channels.GetOrCreate(ctx, "u1", "u2")
	if err != nil || again != key {
		t.Errorf("repeat: got %s, %v", again, err)
	}
	reversed, err := st.Channels.GetOrCreate(ctx, "u2", "u1")
	if err != nil || reversed != key {
		t.Errorf("reversed: got %s, %v", reversed, err)
	}
	if n := testutil.ToFloat64(m.ChannelsCreated); n != 1 {
		t.Errorf("channels created: %v", n)
	}

	for _, user := range []types.UserToken{"u1", "u2"} {
		keys, err := st.Channels.List(ctx, user)
		if err != nil {
			t.Fatal(err)
		}
		if len(keys) != 1 || keys[0] != key {
			t.Errorf("List(%s) = %v", user, keys)
		}
	}
}

func TestGetOrCreateErrors(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()
	addUsers(t, st, "u1")

	if _, err := st.Channels.GetOrCreate(ctx, "u1", "u3"); !errors.Is(err, types.ErrPeerNotFound) {
		t.Errorf("missing peer: got %v want %v", err, types.ErrPeerNotFound)
	}
	if _, err := st.Channels.GetOrCreate(ctx, "u1", "u1"); !errors.Is(err, types.ErrMalformed) {
		t.Errorf("self channel: got %v want %v", err, types.ErrMalformed)
	}
	if _, err := st.Channels.GetOrCreate(ctx, "", "u1"); !errors.Is(err, types.ErrMalformed) {
		t.Errorf("empty token: got %v want %v", err, types.ErrMalformed)
	}

	// Nothing was written for the failed attempt.
	keys, err := st.Channels.List(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("unexpected channels %v", keys)
	}
}

func TestGetOrCreateConcurrent(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()
	addUsers(t, st, "u1", "u2")

	const count = 32
	keys := make(chan types.ChannelKey, count)
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			self, peer := types.UserToken("u1"), types.UserToken("u2")
			if i%2 == 1 {
				self, peer = peer, self
			}
			key, err := st.Channels.GetOrCreate(ctx, self, peer)
			if err != nil {
				t.Error(err)
				return
			}
			keys <- key
		}(i)
	}
	wg.Wait()
	close(keys)

	want := types.ChannelKeyOf("u1", "u2")
	for key := range keys {
		if key != want {
			t.Errorf("got %s want %s", key, want)
		}
	}
	all, err := st.Adapter().ChannelGetAll(ctx, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("expected exactly one channel, got %d", len(all))
	}
	for _, pair := range [][2]types.UserToken{{"u1", "u2"}, {"u2", "u1"}} {
		mbr, err := st.Adapter().MembershipGet(ctx, pair[0], pair[1])
		if err != nil {
			t.Fatal(err)
		}
		if mbr == nil || mbr.Channel != want {
			t.Errorf("membership %s->%s: got %+v want channel %s", pair[0], pair[1], mbr, want)
		}
	}
}

func TestGetOrCreateHealsPeerMembership(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()
	addUsers(t, st, "u1", "u2")

	// Creation was cut short after the first participant's entry was written.
	key := types.ChannelKeyOf("u1", "u2")
	if err := st.Adapter().ChannelCreate(ctx, types.NewChannel("u1", "u2")); err != nil {
		t.Fatal(err)
	}
	if err := st.Adapter().MembershipUpsert(ctx, types.NewMembership("u1", "u2", key)); err != nil {
		t.Fatal(err)
	}

	got, err := st.Channels.GetOrCreate(ctx, "u1", "u2")
	if err != nil {
		t.Fatal(err)
	}
	if got != key {
		t.Fatalf("got %s want %s", got, key)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mbr, err := st.Adapter().MembershipGet(ctx, "u2", "u1")
		if err != nil {
			t.Fatal(err)
		}
		if mbr != nil {
			if mbr.Channel != key {
				t.Fatalf("membership points to %s", mbr.Channel)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("peer membership was not restored")
}

func TestGetById(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()
	addUsers(t, st, "u1", "u2")

	if _, err := st.Channels.Get(ctx, types.ChannelKeyOf("u1", "u2")); !errors.Is(err, types.ErrChannelNotFound) {
		t.Errorf("got %v want %v", err, types.ErrChannelNotFound)
	}
	if _, err := st.Channels.Get(ctx, "bogus"); !errors.Is(err, types.ErrMalformed) {
		t.Errorf("got %v want %v", err, types.ErrMalformed)
	}
	key, err := st.Channels.GetOrCreate(ctx, "u2", "u1")
	if err != nil {
		t.Fatal(err)
	}
	ch, err := st.Channels.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if !ch.SameAs(types.NewChannel("u1", "u2")) {
		t.Errorf("unexpected participants %v", ch.Participants)
	}
}

func TestMessages(t *testing.T) {
	st, m := newStore(t)
	ctx := context.Background()
	addUsers(t, st, "u1", "u2", "u3")

	if _, err := st.Messages.Append(ctx, types.ChannelKeyOf("u1", "u3"), "u1", "u3", "hi"); !errors.Is(err, types.ErrChannelNotFound) {
		t.Errorf("append to unknown channel: got %v want %v", err, types.ErrChannelNotFound)
	}

	key, err := st.Channels.GetOrCreate(ctx, "u1", "u2")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.Messages.Append(ctx, key, "u1", "u3", "wrong"); !errors.Is(err, types.ErrMalformed) {
		t.Errorf("mismatched receiver: got %v want %v", err, types.ErrMalformed)
	}

	if _, err := st.Messages.Append(ctx, key, "u1", "u2", "hello"); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Messages.Append(ctx, key, "u2", "u1", "hi"); err != nil {
		t.Fatal(err)
	}

	msgs, err := st.Messages.List(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if msgs[0].Payload != "hello" || msgs[0].Sender != "u1" || msgs[1].Payload != "hi" || msgs[1].Sender != "u2" {
		t.Errorf("unexpected messages %+v", msgs)
	}
	if msgs[0].SeqId >= msgs[1].SeqId || msgs[0].Id == "" || msgs[0].Id == msgs[1].Id {
		t.Errorf("bad ordering or ids: %+v", msgs)
	}
	if n := testutil.ToFloat64(m.MessagesAppended); n != 2 {
		t.Errorf("messages appended: %v", n)
	}

	// Unknown channel lists as empty.
	msgs, err = st.Messages.List(ctx, types.ChannelKeyOf("u2", "u3"))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no messages, got %d", len(msgs))
	}
}

func TestSend(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()
	addUsers(t, st, "u1", "u2")

	msg, err := st.Messages.Send(ctx, "u2", "u1", "first contact")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Channel != types.ChannelKeyOf("u1", "u2") || msg.SeqId != 1 {
		t.Errorf("unexpected message %+v", msg)
	}
	if _, err := st.Messages.Send(ctx, "u1", "nobody", "hello?"); !errors.Is(err, types.ErrPeerNotFound) {
		t.Errorf("got %v want %v", err, types.ErrPeerNotFound)
	}
}

func TestReconcilerScan(t *testing.T) {
	st, m := newStore(t)
	ctx := context.Background()
	addUsers(t, st, "u1", "u2", "u3")

	// Channels whose creation was interrupted before the index was written.
	for _, peer := range []types.UserToken{"u2", "u3"} {
		if err := st.Adapter().ChannelCreate(ctx, types.NewChannel("u1", peer)); err != nil {
			t.Fatal(err)
		}
	}
	// One side of the first channel is already there.
	key := types.ChannelKeyOf("u1", "u2")
	if err := st.Adapter().MembershipUpsert(ctx, types.NewMembership("u1", "u2", key)); err != nil {
		t.Fatal(err)
	}

	healed, err := st.Reconciler().Scan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if healed != 3 {
		t.Errorf("healed %d entries, want 3", healed)
	}
	if n := testutil.ToFloat64(m.MembershipsHealed); n != 3 {
		t.Errorf("healed metric: %v", n)
	}

	// Second pass finds nothing to do.
	healed, err = st.Reconciler().Scan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if healed != 0 {
		t.Errorf("second scan healed %d", healed)
	}

	mbr, err := st.Adapter().MembershipGet(ctx, "u2", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if mbr == nil || mbr.Channel != key {
		t.Errorf("membership not restored: %+v", mbr)
	}
}

func TestReconcilerRepair(t *testing.T) {
	st, _ := newStore(t)
	ctx := context.Background()

	if _, err := st.Reconciler().Repair(ctx, types.ChannelKeyOf("u1", "u2")); !errors.Is(err, types.ErrChannelNotFound) {
		t.Errorf("got %v want %v", err, types.ErrChannelNotFound)
	}

	ch := types.NewChannel("u1", "u2")
	if err := st.Adapter().ChannelCreate(ctx, ch); err != nil {
		t.Fatal(err)
	}
	if !st.Reconciler().Schedule(ch.Key) {
		t.Fatal("repair not scheduled")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mbr, err := st.Adapter().MembershipGet(ctx, "u2", "u1")
		if err != nil {
			t.Fatal(err)
		}
		if mbr != nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("scheduled repair did not run")
}

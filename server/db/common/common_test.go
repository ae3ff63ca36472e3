package common

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tinode/pairchat/server/store/types"
)

func waitSignal(t *testing.T, f *Feed) {
	t.Helper()
	select {
	case <-f.Changes():
	case <-time.After(2 * time.Second):
		t.Fatal("no signal")
	}
}

func expectNoSignal(t *testing.T, f *Feed) {
	t.Helper()
	select {
	case <-f.Changes():
		t.Fatal("unexpected signal")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestFeedCoalesces(t *testing.T) {
	f := NewFeed(nil)
	for i := 0; i < 10; i++ {
		f.Signal()
	}
	waitSignal(t, f)
	expectNoSignal(t, f)
}

func TestFeedCloseOnce(t *testing.T) {
	calls := 0
	f := NewFeed(func() { calls++ })
	f.Close()
	f.Close()
	if calls != 1 {
		t.Errorf("onClose called %d times, want 1", calls)
	}
	select {
	case <-f.Done():
	default:
		t.Error("Done is not closed")
	}
}

func TestBroadcasterMatching(t *testing.T) {
	b := NewBroadcaster()
	key := types.ChannelKeyOf("alice", "bob")
	other := types.ChannelKeyOf("alice", "carol")

	aliceChans := b.Subscribe(ChannelsOf("alice"))
	bobChans := b.Subscribe(ChannelsOf("bob"))
	msgs := b.Subscribe(MessagesIn(key))

	b.Publish(&Event{Kind: EventChannel, Channel: other, Users: []types.UserToken{"alice", "carol"}})
	waitSignal(t, aliceChans)
	expectNoSignal(t, bobChans)
	expectNoSignal(t, msgs)

	b.Publish(&Event{Kind: EventMessage, Channel: other})
	expectNoSignal(t, msgs)
	b.Publish(&Event{Kind: EventMessage, Channel: key})
	waitSignal(t, msgs)
	expectNoSignal(t, aliceChans)

	if b.Len() != 3 {
		t.Fatalf("Len = %d, want 3", b.Len())
	}
	msgs.Close()
	if b.Len() != 2 {
		t.Errorf("closed feed not removed, Len = %d", b.Len())
	}
	b.Publish(&Event{Kind: EventMessage, Channel: key})
	expectNoSignal(t, msgs)
}

func TestBroadcasterFail(t *testing.T) {
	b := NewBroadcaster()
	f := b.Subscribe(ChannelsOf("alice"))
	b.Fail(errors.New("boom"))
	select {
	case err := <-f.Errors():
		if err.Error() != "boom" {
			t.Errorf("unexpected error %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("error not delivered")
	}
}

func TestBroadcasterSignalAll(t *testing.T) {
	b := NewBroadcaster()
	chans := b.Subscribe(ChannelsOf("alice"))
	msgs := b.Subscribe(MessagesIn(types.ChannelKeyOf("alice", "bob")))
	b.SignalAll()
	waitSignal(t, chans)
	waitSignal(t, msgs)
}

func TestPoll(t *testing.T) {
	var version atomic.Int64
	f := NewFeed(nil)
	defer f.Close()

	Poll(context.Background(), f, 5*time.Millisecond, func(context.Context) (string, error) {
		return strconv.FormatInt(version.Load(), 10), nil
	})
	expectNoSignal(t, f)

	version.Add(1)
	waitSignal(t, f)
}

func TestRunStreamReopens(t *testing.T) {
	var opened atomic.Int32
	f := NewFeed(nil)

	RunStream(context.Background(), f, func(ctx context.Context, signal func()) error {
		if opened.Add(1) == 1 {
			return errors.New("stream lost")
		}
		signal()
		<-ctx.Done()
		return ctx.Err()
	})

	select {
	case err := <-f.Errors():
		if err.Error() != "stream lost" {
			t.Errorf("unexpected error %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream failure not reported")
	}
	waitSignal(t, f)

	f.Close()
	if n := opened.Load(); n < 2 {
		t.Errorf("stream opened %d times, want at least 2", n)
	}
}

func TestSortKeys(t *testing.T) {
	if keys := SortKeys(nil); keys == nil || len(keys) != 0 {
		t.Errorf("SortKeys(nil) = %#v", keys)
	}
	keys := SortKeys([]types.ChannelKey{"p2pc", "p2pa", "p2pb"})
	if keys[0] != "p2pa" || keys[2] != "p2pc" {
		t.Errorf("not sorted: %v", keys)
	}
}

// Package common contains utility methods used by all adapters.
package common

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tinode/pairchat/server/logs"
	t "github.com/tinode/pairchat/server/store/types"
)

// Feed is a change feed shared by adapters. Signals are coalesced: if the
// consumer has not picked up the previous signal, a new one is dropped.
type Feed struct {
	changes chan struct{}
	errors  chan error
	done    chan struct{}
	once    sync.Once
	onClose func()
}

// NewFeed creates a feed. onClose, if not nil, is called once when the feed is closed.
func NewFeed(onClose func()) *Feed {
	return &Feed{
		changes: make(chan struct{}, 1),
		errors:  make(chan error, 8),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// Signal notifies the consumer that the watched data has changed.
func (f *Feed) Signal() {
	select {
	case f.changes <- struct{}{}:
	default:
	}
}

// Fail reports an error to the consumer. Dropped if the consumer is not keeping up.
func (f *Feed) Fail(err error) {
	select {
	case f.errors <- err:
	default:
		logs.Warning.Println("feed: error dropped:", err)
	}
}

// Changes implements adapter.Feed.
func (f *Feed) Changes() <-chan struct{} {
	return f.changes
}

// Errors implements adapter.Feed.
func (f *Feed) Errors() <-chan error {
	return f.errors
}

// Done is closed after the feed is closed.
func (f *Feed) Done() <-chan struct{} {
	return f.done
}

// Close implements adapter.Feed.
func (f *Feed) Close() error {
	f.once.Do(func() {
		close(f.done)
		if f.onClose != nil {
			f.onClose()
		}
	})
	return nil
}

// EventKind tells what has changed.
type EventKind int

const (
	// EventChannel means a channel was created or touched.
	EventChannel EventKind = iota
	// EventMessage means a message was appended.
	EventMessage
)

// Event is a change published through a Broadcaster.
type Event struct {
	Kind    EventKind
	Channel t.ChannelKey
	// Users affected by a channel change.
	Users []t.UserToken
}

// Broadcaster fans out change events to the feeds whose filter matches.
// Used by adapters which learn about changes in-process.
type Broadcaster struct {
	mu    sync.Mutex
	feeds map[*Feed]func(*Event) bool
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{feeds: make(map[*Feed]func(*Event) bool)}
}

// Subscribe creates a feed receiving a signal for each event matched by the filter.
func (b *Broadcaster) Subscribe(match func(*Event) bool) *Feed {
	var f *Feed
	f = NewFeed(func() {
		b.mu.Lock()
		delete(b.feeds, f)
		b.mu.Unlock()
	})
	b.mu.Lock()
	b.feeds[f] = match
	b.mu.Unlock()
	return f
}

// Publish signals the matching feeds.
func (b *Broadcaster) Publish(ev *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for f, match := range b.feeds {
		if match(ev) {
			f.Signal()
		}
	}
}

// SignalAll signals every feed. Used when changes may have been missed.
func (b *Broadcaster) SignalAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for f := range b.feeds {
		f.Signal()
	}
}

// Fail reports an error to all feeds.
func (b *Broadcaster) Fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for f := range b.feeds {
		f.Fail(err)
	}
}

// Len returns the number of subscribed feeds.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.feeds)
}

// ChannelsOf matches channel events involving the user.
func ChannelsOf(user t.UserToken) func(*Event) bool {
	return func(ev *Event) bool {
		if ev.Kind != EventChannel {
			return false
		}
		for _, u := range ev.Users {
			if u == user {
				return true
			}
		}
		return false
	}
}

// MessagesIn matches message events in the channel.
func MessagesIn(key t.ChannelKey) func(*Event) bool {
	return func(ev *Event) bool {
		return ev.Kind == EventMessage && ev.Channel == key
	}
}

// RunStream keeps a native change stream alive until the feed is closed.
// open must block while the stream is running, call signal for every change
// and return when the stream fails or ctx is cancelled. Failures are reported
// through the feed and the stream is reopened with exponential backoff.
func RunStream(ctx context.Context, f *Feed, open func(ctx context.Context, signal func()) error) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-f.Done():
		case <-ctx.Done():
		}
		cancel()
	}()

	go func() {
		defer cancel()
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 100 * time.Millisecond
		bo.MaxInterval = 10 * time.Second
		bo.MaxElapsedTime = 0
		for {
			started := time.Now()
			err := open(ctx, f.Signal)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				f.Fail(err)
			}
			if time.Since(started) > bo.MaxInterval {
				bo.Reset()
			}
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return
			}
			// The stream may have missed changes while it was down.
			f.Signal()
		}
	}()
}

// Poll calls version every interval and signals the feed when the returned
// value changes. Errors are reported through the feed. Runs until the feed is
// closed or ctx is cancelled.
func Poll(ctx context.Context, f *Feed, interval time.Duration, version func(ctx context.Context) (string, error)) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		last, err := version(ctx)
		if err != nil {
			f.Fail(err)
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				curr, err := version(ctx)
				if err != nil {
					if ctx.Err() == nil {
						f.Fail(err)
					}
					continue
				}
				if curr != last {
					last = curr
					f.Signal()
				}
			case <-f.Done():
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// SortKeys sorts channel keys in place and returns the slice. A nil slice is
// replaced with an empty one.
func SortKeys(keys []t.ChannelKey) []t.ChannelKey {
	if keys == nil {
		return []t.ChannelKey{}
	}
	sort.Sort(t.ByChannelKey(keys))
	return keys
}

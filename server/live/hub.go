// Package live keeps clients in sync with the store: a subscription delivers
// the full current snapshot on start and again after every change.
package live

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	adapter "github.com/tinode/pairchat/server/db"
	"github.com/tinode/pairchat/server/logs"
	"github.com/tinode/pairchat/server/metrics"
	"github.com/tinode/pairchat/server/store"
	"github.com/tinode/pairchat/server/store/types"
)

const (
	kindChannels = "channels"
	kindMessages = "messages"
)

// ErrShutdown is returned when subscribing to a stopped hub.
var ErrShutdown = errors.New("live: hub is shut down")

// ChannelsHandler receives the complete list of the user's channels.
type ChannelsHandler func(keys []types.ChannelKey)

// MessagesHandler receives the complete list of messages in the channel.
type MessagesHandler func(msgs []types.Message)

// ErrorHandler receives errors of the store. The subscription stays active.
type ErrorHandler func(err error)

// Hub manages live subscriptions.
type Hub struct {
	st      *store.Store
	metrics *metrics.Metrics

	mu       sync.Mutex
	subs     map[*Subscription]struct{}
	shutdown bool
}

// NewHub creates a hub on top of the store.
func NewHub(st *store.Store) *Hub {
	return &Hub{
		st:      st,
		metrics: st.Metrics(),
		subs:    make(map[*Subscription]struct{}),
	}
}

// Subscription is a handle to a live subscription.
type Subscription struct {
	hub       *Hub
	kind      string
	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}
}

// Cancel stops delivery. No callback is invoked after Cancel returns, except one
// already in progress. Safe to call more than once and from inside a callback.
func (s *Subscription) Cancel() {
	if s.cancelled.Swap(true) {
		return
	}
	s.cancel()
	s.hub.remove(s)
}

// Done is closed when the subscription has released its resources.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) active() bool {
	return !s.cancelled.Load()
}

// SubscribeChannels delivers the channel list of the user now and after every change.
func (h *Hub) SubscribeChannels(ctx context.Context, user types.UserToken, onUpdate ChannelsHandler, onError ErrorHandler) (*Subscription, error) {
	if err := user.Validate(); err != nil {
		return nil, err
	}
	return h.subscribe(ctx, kindChannels,
		func(ctx context.Context) (adapter.Feed, error) {
			return h.st.Adapter().WatchChannels(ctx, user)
		},
		func(ctx context.Context) (func(), error) {
			keys, err := h.st.Channels.List(ctx, user)
			if err != nil {
				return nil, err
			}
			return func() { onUpdate(keys) }, nil
		}, onError)
}

// SubscribeMessages delivers all messages of the channel now and after every append.
func (h *Hub) SubscribeMessages(ctx context.Context, key types.ChannelKey, onUpdate MessagesHandler, onError ErrorHandler) (*Subscription, error) {
	if !key.IsValid() {
		return nil, types.ErrMalformed
	}
	return h.subscribe(ctx, kindMessages,
		func(ctx context.Context) (adapter.Feed, error) {
			return h.st.Adapter().WatchMessages(ctx, key)
		},
		func(ctx context.Context) (func(), error) {
			msgs, err := h.st.Messages.List(ctx, key)
			if err != nil {
				return nil, err
			}
			return func() { onUpdate(msgs) }, nil
		}, onError)
}

// subscribe starts the feed first and loads the snapshot second so no change
// between the two is lost.
func (h *Hub) subscribe(ctx context.Context, kind string,
	watch func(context.Context) (adapter.Feed, error),
	load func(context.Context) (func(), error),
	onError ErrorHandler) (*Subscription, error) {

	ctx, cancel := context.WithCancel(ctx)
	feed, err := watch(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	sub := &Subscription{hub: h, kind: kind, cancel: cancel, done: make(chan struct{})}
	if !h.add(sub) {
		cancel()
		feed.Close()
		return nil, ErrShutdown
	}
	h.metrics.SubscriptionStarted(kind)

	go h.run(ctx, sub, feed, load, onError)
	return sub, nil
}

func (h *Hub) run(ctx context.Context, sub *Subscription, feed adapter.Feed,
	load func(context.Context) (func(), error), onError ErrorHandler) {

	defer func() {
		feed.Close()
		h.metrics.SubscriptionStopped(sub.kind)
		close(sub.done)
	}()

	reportErr := func(err error) {
		if !sub.active() || ctx.Err() != nil {
			return
		}
		logs.Warning.Printf("live: %s subscription error: %v", sub.kind, err)
		if onError != nil {
			onError(err)
		}
	}

	reload := func() {
		deliver, err := load(ctx)
		if err != nil {
			reportErr(err)
			return
		}
		if sub.active() && ctx.Err() == nil {
			deliver()
			h.metrics.Delivered(sub.kind)
		}
	}

	reload()
	for {
		select {
		case <-feed.Changes():
			reload()
		case err := <-feed.Errors():
			reportErr(err)
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) add(sub *Subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		return false
	}
	h.subs[sub] = struct{}{}
	return true
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// Len returns the number of active subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Shutdown cancels all subscriptions and waits up to grace for them to release
// their resources.
func (h *Hub) Shutdown(grace time.Duration) {
	h.mu.Lock()
	h.shutdown = true
	subs := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}

	timeout := time.After(grace)
	for _, sub := range subs {
		select {
		case <-sub.Done():
		case <-timeout:
			logs.Warning.Println("live: subscriptions did not stop in time")
			return
		}
	}
}

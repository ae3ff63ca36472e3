// Package adapter contains the interfaces to be implemented by the database adapter
package adapter

import (
	"context"
	"encoding/json"

	t "github.com/tinode/pairchat/server/store/types"
)

// Adapter is the interface that must be implemented by a document store
// adapter. Only per-document atomicity is expected from the store: no call
// below may assume a transaction spanning several documents.
type Adapter interface {
	// General

	// Open and configure the adapter
	Open(config json.RawMessage) error
	// Close the adapter
	Close() error
	// IsOpen checks if the adapter is ready for use
	IsOpen() bool
	// GetName returns the name of the adapter
	GetName() string
	// CreateDb creates the database optionally dropping an existing database first.
	CreateDb(reset bool) error

	// User management

	// UserCreate creates user record. Returns t.ErrDuplicate if a user with the same token exists.
	UserCreate(ctx context.Context, user *t.User) error
	// UserGet fetches a single user by token. If the user is not found it returns (nil, nil).
	UserGet(ctx context.Context, token t.UserToken) (*t.User, error)

	// Channel management

	// ChannelCreate creates a channel record. Returns t.ErrDuplicate if the channel exists.
	ChannelCreate(ctx context.Context, ch *t.Channel) error
	// ChannelGet loads a single channel. If the channel does not exist the call returns (nil, nil).
	ChannelGet(ctx context.Context, key t.ChannelKey) (*t.Channel, error)
	// ChannelsForUser returns sorted keys of all channels the user participates in.
	ChannelsForUser(ctx context.Context, user t.UserToken) ([]t.ChannelKey, error)
	// ChannelGetAll returns up to limit channels with keys greater than after, ordered by key.
	ChannelGetAll(ctx context.Context, after t.ChannelKey, limit int) ([]t.Channel, error)

	// Membership index

	// MembershipUpsert creates or overwrites the index entry with the same Id.
	MembershipUpsert(ctx context.Context, m *t.Membership) error
	// MembershipGet reads owner's index entry for peer. Returns (nil, nil) if missing.
	MembershipGet(ctx context.Context, owner, peer t.UserToken) (*t.Membership, error)

	// Messages

	// MessageAppend assigns the next sequence id of the channel to the message and saves it.
	// Returns t.ErrChannelNotFound if the channel does not exist.
	MessageAppend(ctx context.Context, msg *t.Message) error
	// MessageGetAll returns all messages of the channel ordered by SeqId. Records which
	// cannot be decoded are skipped.
	MessageGetAll(ctx context.Context, key t.ChannelKey) ([]t.Message, error)

	// Change notifications

	// WatchChannels starts a feed firing on every change to the channels of the user.
	WatchChannels(ctx context.Context, user t.UserToken) (Feed, error)
	// WatchMessages starts a feed firing on every message appended to the channel.
	WatchMessages(ctx context.Context, key t.ChannelKey) (Feed, error)
}

// Feed is a live change notification. It carries no data: the consumer reloads
// the snapshot it is interested in after each signal. Consecutive signals may be
// coalesced into one.
type Feed interface {
	// Changes receives a value after the watched data has changed.
	Changes() <-chan struct{}
	// Errors receives store failures. The feed keeps running after an error.
	Errors() <-chan error
	// Close stops the feed and releases the underlying listener.
	Close() error
}

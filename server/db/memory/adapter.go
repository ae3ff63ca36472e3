// Package memory is an in-process database adapter. Data lives as long as the
// adapter is open. Used for development and as the reference for the
// adapter conformance tests.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	db "github.com/tinode/pairchat/server/db"
	"github.com/tinode/pairchat/server/db/common"
	"github.com/tinode/pairchat/server/logs"
	"github.com/tinode/pairchat/server/store"
	t "github.com/tinode/pairchat/server/store/types"
)

const adapterName = "memory"

type configType struct {
	// Seed the store with these users on open.
	Users []t.User `json:"users,omitempty"`
}

// adapter holds in-memory collections.
type adapter struct {
	mu   sync.RWMutex
	open bool

	users       map[t.UserToken]t.User
	channels    map[t.ChannelKey]t.Channel
	memberships map[string]t.Membership
	// Messages are kept serialized, the same way a document store keeps them.
	messages map[t.ChannelKey][][]byte

	events *common.Broadcaster
}

// New creates a new unregistered memory adapter. Call Open before use.
func New() db.Adapter {
	return &adapter{}
}

// Open initializes the collections.
func (a *adapter) Open(jsonconfig json.RawMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.open {
		return errors.New("adapter memory is already connected")
	}

	var config configType
	if len(jsonconfig) > 0 {
		if err := json.Unmarshal(jsonconfig, &config); err != nil {
			return errors.New("adapter memory failed to parse config: " + err.Error())
		}
	}

	a.reset()
	for _, usr := range config.Users {
		usr.InitTimes()
		a.users[usr.Token] = usr
	}
	a.events = common.NewBroadcaster()
	a.open = true
	return nil
}

func (a *adapter) reset() {
	a.users = make(map[t.UserToken]t.User)
	a.channels = make(map[t.ChannelKey]t.Channel)
	a.memberships = make(map[string]t.Membership)
	a.messages = make(map[t.ChannelKey][][]byte)
}

// Close drops all data.
func (a *adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.open {
		a.reset()
		a.open = false
	}
	return nil
}

// IsOpen returns true if the adapter is ready for use.
func (a *adapter) IsOpen() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.open
}

// GetName returns the name of the adapter.
func (a *adapter) GetName() string {
	return adapterName
}

// CreateDb clears the data if reset is true. Otherwise it's a noop.
func (a *adapter) CreateDb(reset bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if reset {
		a.reset()
	}
	return nil
}

// UserCreate creates a user record.
func (a *adapter) UserCreate(ctx context.Context, user *t.User) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.users[user.Token]; ok {
		return t.ErrDuplicate
	}
	a.users[user.Token] = *user
	return nil
}

// UserGet fetches a single user by token.
func (a *adapter) UserGet(ctx context.Context, token t.UserToken) (*t.User, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if usr, ok := a.users[token]; ok {
		return &usr, nil
	}
	return nil, nil
}

// ChannelCreate creates a channel record.
func (a *adapter) ChannelCreate(ctx context.Context, ch *t.Channel) error {
	a.mu.Lock()
	if _, ok := a.channels[ch.Key]; ok {
		a.mu.Unlock()
		return t.ErrDuplicate
	}
	rec := *ch
	rec.Participants = append([]t.UserToken(nil), ch.Participants...)
	a.channels[ch.Key] = rec
	a.mu.Unlock()

	a.events.Publish(&common.Event{Kind: common.EventChannel, Channel: ch.Key, Users: rec.Participants})
	return nil
}

// ChannelGet loads a single channel.
func (a *adapter) ChannelGet(ctx context.Context, key t.ChannelKey) (*t.Channel, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if ch, ok := a.channels[key]; ok {
		ch.Participants = append([]t.UserToken(nil), ch.Participants...)
		return &ch, nil
	}
	return nil, nil
}

// ChannelsForUser returns keys of channels the user is a participant of.
func (a *adapter) ChannelsForUser(ctx context.Context, user t.UserToken) ([]t.ChannelKey, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var keys []t.ChannelKey
	for key, ch := range a.channels {
		for _, p := range ch.Participants {
			if p == user {
				keys = append(keys, key)
				break
			}
		}
	}
	return common.SortKeys(keys), nil
}

// ChannelGetAll pages through all channels ordered by key.
func (a *adapter) ChannelGetAll(ctx context.Context, after t.ChannelKey, limit int) ([]t.Channel, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var result []t.Channel
	for key, ch := range a.channels {
		if key > after {
			result = append(result, ch)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// MembershipUpsert creates or replaces an index entry.
func (a *adapter) MembershipUpsert(ctx context.Context, m *t.Membership) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.memberships[m.Id] = *m
	return nil
}

// MembershipGet reads an index entry.
func (a *adapter) MembershipGet(ctx context.Context, owner, peer t.UserToken) (*t.Membership, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if m, ok := a.memberships[t.MembershipID(owner, peer)]; ok {
		return &m, nil
	}
	return nil, nil
}

// MessageAppend assigns the next SeqId and saves the message.
func (a *adapter) MessageAppend(ctx context.Context, msg *t.Message) error {
	a.mu.Lock()
	ch, ok := a.channels[msg.Channel]
	if !ok {
		a.mu.Unlock()
		return t.ErrChannelNotFound
	}
	ch.SeqId++
	ch.TouchedAt = msg.CreatedAt
	msg.SeqId = ch.SeqId

	data, err := json.Marshal(msg)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	a.channels[msg.Channel] = ch
	a.messages[msg.Channel] = append(a.messages[msg.Channel], data)
	a.mu.Unlock()

	a.events.Publish(&common.Event{Kind: common.EventMessage, Channel: msg.Channel})
	return nil
}

// MessageGetAll decodes all messages of the channel. Undecodable records are skipped.
func (a *adapter) MessageGetAll(ctx context.Context, key t.ChannelKey) ([]t.Message, error) {
	a.mu.RLock()
	raw := a.messages[key]
	a.mu.RUnlock()

	msgs := make([]t.Message, 0, len(raw))
	for _, data := range raw {
		var msg t.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logs.Warning.Printf("memory: skipping malformed message in '%s': %v", key, err)
			continue
		}
		msgs = append(msgs, msg)
	}
	sort.Stable(t.BySeqId(msgs))
	return msgs, nil
}

// WatchChannels subscribes to channel changes of the user.
func (a *adapter) WatchChannels(ctx context.Context, user t.UserToken) (db.Feed, error) {
	if !a.IsOpen() {
		return nil, errors.New("adapter memory is not open")
	}
	return a.events.Subscribe(common.ChannelsOf(user)), nil
}

// WatchMessages subscribes to messages of the channel.
func (a *adapter) WatchMessages(ctx context.Context, key t.ChannelKey) (db.Feed, error) {
	if !a.IsOpen() {
		return nil, errors.New("adapter memory is not open")
	}
	return a.events.Subscribe(common.MessagesIn(key)), nil
}

// injectRaw stores an arbitrary record in the channel's log.
func (a *adapter) injectRaw(key t.ChannelKey, data []byte) {
	a.mu.Lock()
	a.messages[key] = append(a.messages[key], data)
	a.mu.Unlock()
}

func init() {
	store.RegisterAdapter(&adapter{})
}

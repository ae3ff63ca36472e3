// Package types defines the data model shared by the store, its adapters and
// the live sync layer.
package types

import (
	"sort"
	"time"
)

// StoreError is an error returned by the store and its adapters.
type StoreError string

func (s StoreError) Error() string {
	return string(s)
}

const (
	// ErrStoreUnavailable means the backing store could not be reached or failed. Transient.
	ErrStoreUnavailable = StoreError("store unavailable")
	// ErrNotFound means the object was not found. An expected outcome of a lookup.
	ErrNotFound = StoreError("not found")
	// ErrPeerNotFound means the other participant of a channel does not exist.
	ErrPeerNotFound = StoreError("peer not found")
	// ErrWriteConflict means a concurrent create has won the race. Resolved by the store internally.
	ErrWriteConflict = StoreError("write conflict")
	// ErrRegistryInconsistent means the membership index could not be confirmed for both participants.
	ErrRegistryInconsistent = StoreError("registry inconsistent")
	// ErrChannelNotFound means the channel has not been established.
	ErrChannelNotFound = StoreError("channel not found")
	// ErrDuplicate means the object with the same key already exists.
	ErrDuplicate = StoreError("duplicate")
	// ErrMalformed means the input is invalid: empty token, channel with self, etc.
	ErrMalformed = StoreError("malformed")
)

// Length of a message id: 8 bytes in unpadded base64.
const uidBase64Unpadded = 11

// TimeNow returns current wall time in UTC rounded to milliseconds.
func TimeNow() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

// User is a stored user record. Created once, never deleted.
type User struct {
	Token     UserToken `json:"token" bson:"_id" rethinkdb:"Id" firestore:"token"`
	Name      string    `json:"name,omitempty" bson:"name" rethinkdb:"Name" firestore:"name"`
	ImageURL  string    `json:"image_url,omitempty" bson:"imageurl" rethinkdb:"ImageURL" firestore:"imageUrl"`
	CreatedAt time.Time `json:"created_at" bson:"createdat" rethinkdb:"CreatedAt" firestore:"createdAt"`
	UpdatedAt time.Time `json:"updated_at" bson:"updatedat" rethinkdb:"UpdatedAt" firestore:"updatedAt"`
}

// InitTimes sets creation and update times to current time unless already set.
func (u *User) InitTimes() {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = TimeNow()
	}
	u.UpdatedAt = u.CreatedAt
}

// Channel is a conversation between exactly two users. Key and Participants
// never change once created. SeqId and TouchedAt track the last appended message.
type Channel struct {
	Key ChannelKey `json:"key" bson:"_id" rethinkdb:"Id" firestore:"key"`
	// Participants are sorted in the same order ChannelKeyOf sorts them.
	Participants []UserToken `json:"participants" bson:"participants" rethinkdb:"Participants" firestore:"participants"`
	SeqId        int         `json:"seq" bson:"seqid" rethinkdb:"SeqId" firestore:"seq"`
	CreatedAt    time.Time   `json:"created_at" bson:"createdat" rethinkdb:"CreatedAt" firestore:"createdAt"`
	TouchedAt    time.Time   `json:"touched_at,omitempty" bson:"touchedat" rethinkdb:"TouchedAt" firestore:"touchedAt"`
}

// NewChannel creates an in-memory channel record for the pair of users.
func NewChannel(a, b UserToken) *Channel {
	pair := []UserToken{a, b}
	sort.Slice(pair, func(i, j int) bool { return pair[i] < pair[j] })
	return &Channel{
		Key:          ChannelKeyOf(a, b),
		Participants: pair,
		CreatedAt:    TimeNow(),
	}
}

// SameAs checks if two records describe the same channel: same key and participants.
func (c *Channel) SameAs(other *Channel) bool {
	if c == nil || other == nil {
		return false
	}
	if c.Key != other.Key || len(c.Participants) != len(other.Participants) {
		return false
	}
	for i := range c.Participants {
		if c.Participants[i] != other.Participants[i] {
			return false
		}
	}
	return true
}

// Membership is an entry in the per-user index of channels: Owner talks to Peer in Channel.
type Membership struct {
	// Id is MembershipID(Owner, Peer).
	Id        string     `json:"id" bson:"_id" rethinkdb:"Id" firestore:"id"`
	Owner     UserToken  `json:"owner" bson:"owner" rethinkdb:"Owner" firestore:"owner"`
	Peer      UserToken  `json:"peer" bson:"peer" rethinkdb:"Peer" firestore:"peer"`
	Channel   ChannelKey `json:"channel" bson:"channel" rethinkdb:"Channel" firestore:"channelId"`
	CreatedAt time.Time  `json:"created_at" bson:"createdat" rethinkdb:"CreatedAt" firestore:"createdAt"`
}

// NewMembership creates an index entry for owner pointing at the channel with peer.
func NewMembership(owner, peer UserToken, key ChannelKey) *Membership {
	return &Membership{
		Id:        MembershipID(owner, peer),
		Owner:     owner,
		Peer:      peer,
		Channel:   key,
		CreatedAt: TimeNow(),
	}
}

// Message is an immutable entry in the channel's append-only log.
type Message struct {
	Id      string     `json:"id" bson:"_id" rethinkdb:"Id" firestore:"id"`
	Channel ChannelKey `json:"channel" bson:"channel" rethinkdb:"Channel" firestore:"channel"`
	// SeqId is the position in the channel assigned by the store on arrival, starting at 1.
	SeqId     int       `json:"seq" bson:"seqid" rethinkdb:"SeqId" firestore:"seq"`
	Sender    UserToken `json:"sender" bson:"sender" rethinkdb:"Sender" firestore:"sender"`
	Receiver  UserToken `json:"receiver" bson:"receiver" rethinkdb:"Receiver" firestore:"receiver"`
	Payload   string    `json:"payload" bson:"payload" rethinkdb:"Payload" firestore:"payload"`
	CreatedAt time.Time `json:"ts" bson:"createdat" rethinkdb:"CreatedAt" firestore:"timeStamp"`
}

// ByChannelKey sorts channel keys in ascending order.
type ByChannelKey []ChannelKey

func (s ByChannelKey) Len() int           { return len(s) }
func (s ByChannelKey) Less(i, j int) bool { return s[i] < s[j] }
func (s ByChannelKey) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// BySeqId sorts messages by arrival order.
type BySeqId []Message

func (s BySeqId) Len() int           { return len(s) }
func (s BySeqId) Less(i, j int) bool { return s[i].SeqId < s[j].SeqId }
func (s BySeqId) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

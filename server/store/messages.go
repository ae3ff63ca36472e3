package store

import (
	"context"
	"errors"
	"sort"

	"github.com/tinode/pairchat/server/logs"
	"github.com/tinode/pairchat/server/push"
	"github.com/tinode/pairchat/server/store/types"
)

// MessagesObjMapperInterface is the Message Store.
type MessagesObjMapperInterface interface {
	// Append adds a message to an existing channel and returns the stored message.
	Append(ctx context.Context, key types.ChannelKey, sender, receiver types.UserToken, payload string) (*types.Message, error)
	// Send resolves or creates the channel between sender and receiver, then appends the message.
	Send(ctx context.Context, sender, receiver types.UserToken, payload string) (*types.Message, error)
	// List returns all messages of the channel in arrival order.
	List(ctx context.Context, key types.ChannelKey) ([]types.Message, error)
}

// MessagesObjMapper is a struct to hold methods for persistence mapping for the Message object.
type MessagesObjMapper struct {
	st *Store
}

// Append saves a message to the channel's log.
func (m MessagesObjMapper) Append(ctx context.Context, key types.ChannelKey, sender, receiver types.UserToken, payload string) (*types.Message, error) {
	if err := sender.Validate(); err != nil {
		return nil, err
	}
	if err := receiver.Validate(); err != nil {
		return nil, err
	}
	if sender == receiver || types.ChannelKeyOf(sender, receiver) != key {
		return nil, types.ErrMalformed
	}

	msg := &types.Message{
		Id:        m.st.uGen.GetStr(),
		Channel:   key,
		Sender:    sender,
		Receiver:  receiver,
		Payload:   payload,
		CreatedAt: types.TimeNow(),
	}
	if err := m.st.adp.MessageAppend(ctx, msg); err != nil {
		if errors.Is(err, types.ErrChannelNotFound) {
			return nil, types.ErrChannelNotFound
		}
		return nil, unavailable(err)
	}
	m.st.metrics.MessageAppended()

	push.Push(push.NewMessageReceipt(msg))

	return msg, nil
}

// Send appends a message, establishing the channel first.
func (m MessagesObjMapper) Send(ctx context.Context, sender, receiver types.UserToken, payload string) (*types.Message, error) {
	key, err := m.st.Channels.GetOrCreate(ctx, sender, receiver)
	if err != nil {
		return nil, err
	}
	return m.Append(ctx, key, sender, receiver, payload)
}

// List loads messages of the channel. Records missing required fields are
// skipped. Unknown channel yields an empty list.
func (m MessagesObjMapper) List(ctx context.Context, key types.ChannelKey) ([]types.Message, error) {
	a, b, err := types.ParseChannelKey(key)
	if err != nil {
		return nil, err
	}
	msgs, err := m.st.adp.MessageGetAll(ctx, key)
	if err != nil {
		return nil, unavailable(err)
	}

	result := make([]types.Message, 0, len(msgs))
	for i := range msgs {
		if !wellFormed(&msgs[i], key, a, b) {
			continue
		}
		result = append(result, msgs[i])
	}
	if skipped := len(msgs) - len(result); skipped > 0 {
		logs.Warning.Printf("store: skipped %d malformed messages in '%s'", skipped, key)
		m.st.metrics.Skipped(skipped)
	}
	sort.Stable(types.BySeqId(result))
	return result, nil
}

func wellFormed(msg *types.Message, key types.ChannelKey, a, b types.UserToken) bool {
	if msg.Channel != key || msg.SeqId <= 0 {
		return false
	}
	return (msg.Sender == a && msg.Receiver == b) || (msg.Sender == b && msg.Receiver == a)
}

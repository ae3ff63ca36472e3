// Package push contains interfaces to be implemented by push notification plugins.
package push

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rivo/uniseg"

	t "github.com/tinode/pairchat/server/store/types"
)

// Push actions
const (
	// New message.
	ActMsg = "msg"
)

// MaxPayloadLength is the maximum length of push payload in user-perceived characters.
const MaxPayloadLength = 128

// Receipt is the push payload with a list of recipients.
type Receipt struct {
	// Users to notify.
	To []t.UserToken `json:"to"`
	// Actual content to be delivered to the client.
	Payload Payload `json:"payload"`
}

// Payload is content of the push.
type Payload struct {
	// Action type of the push.
	What string `json:"what"`
	// Channel which was affected by the action.
	Channel t.ChannelKey `json:"channel"`
	// Id of the message.
	Id string `json:"id,omitempty"`
	// Message sender.
	From t.UserToken `json:"from"`
	// Sequential ID of the message.
	SeqId int `json:"seq"`
	// Timestamp of the action.
	Timestamp time.Time `json:"ts"`
	// Message text, possibly truncated.
	Content string `json:"content,omitempty"`
}

// Handler is an interface which must be implemented by handlers.
type Handler interface {
	// Init initializes the handler.
	Init(jsonconf json.RawMessage) (bool, error)

	// IsReady сhecks if the handler is initialized.
	IsReady() bool

	// Push returns a channel that the server will use to send messages to.
	// The message will be dropped if the channel blocks.
	Push() chan<- *Receipt

	// Stop terminates the handler's worker and stops sending pushes.
	Stop()
}

type configType struct {
	Name   string          `json:"name"`
	Config json.RawMessage `json:"config"`
}

var handlers map[string]Handler

// Register a push handler
func Register(name string, hnd Handler) {
	if handlers == nil {
		handlers = make(map[string]Handler)
	}

	if hnd == nil {
		panic("Register: push handler is nil")
	}
	if _, dup := handlers[name]; dup {
		panic("Register: called twice for handler " + name)
	}
	handlers[name] = hnd
}

// Init initializes registered handlers.
func Init(jsconfig json.RawMessage) ([]string, error) {
	var config []configType

	if err := json.Unmarshal(jsconfig, &config); err != nil {
		return nil, errors.New("failed to parse config: " + err.Error())
	}

	var enabled []string
	for _, cc := range config {
		if hnd := handlers[cc.Name]; hnd != nil {
			if ok, err := hnd.Init(cc.Config); err != nil {
				return nil, err
			} else if ok {
				enabled = append(enabled, cc.Name)
			}
		}
	}

	return enabled, nil
}

// NewMessageReceipt creates a receipt notifying the receiver of a new message.
func NewMessageReceipt(msg *t.Message) *Receipt {
	return &Receipt{
		To: []t.UserToken{msg.Receiver},
		Payload: Payload{
			What:      ActMsg,
			Channel:   msg.Channel,
			Id:        msg.Id,
			From:      msg.Sender,
			SeqId:     msg.SeqId,
			Timestamp: msg.CreatedAt,
			Content:   Preview(msg.Payload, MaxPayloadLength),
		},
	}
}

// Push a single message to devices.
func Push(msg *Receipt) {
	if handlers == nil {
		return
	}

	for _, hnd := range handlers {
		if !hnd.IsReady() {
			continue
		}

		// Push without delay or skip
		select {
		case hnd.Push() <- msg:
		default:
		}
	}
}

// Stop all pushes
func Stop() {
	if handlers == nil {
		return
	}

	for _, hnd := range handlers {
		if hnd.IsReady() {
			// Will potentially block
			hnd.Stop()
		}
	}
}

// Preview shortens the text to at most maxLen grapheme clusters, appending an
// ellipsis if the text was cut.
func Preview(text string, maxLen int) string {
	// Byte length is an upper bound of the grapheme count.
	if len(text) <= maxLen {
		return text
	}

	gr := uniseg.NewGraphemes(text)
	count, end := 0, 0
	for gr.Next() {
		if count == maxLen {
			return text[:end] + "…"
		}
		_, end = gr.Positions()
		count++
	}
	return text
}

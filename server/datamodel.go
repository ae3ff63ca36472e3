/******************************************************************************
 *
 *  Description :
 *
 *  Messages exchanged between the client and the server over websocket.
 *
 *****************************************************************************/

package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/tinode/pairchat/server/auth"
	"github.com/tinode/pairchat/server/live"
	"github.com/tinode/pairchat/server/store/types"
)

// Topic name of the user's channel list.
const topicMe = "me"

// Client to Server (C2S) messages

// MsgClientHi is a handshake {hi} message. It authenticates the session.
type MsgClientHi struct {
	// Message Id
	Id string `json:"id,omitempty"`
	// User agent
	UserAgent string `json:"ua,omitempty"`
	// Protocol version, i.e. "0.1"
	Version string `json:"ver,omitempty"`
	// Session token issued by the session provider.
	Secret []byte `json:"secret"`
	// Profile of the user. Used only when the user is seen for the first time.
	Name     string `json:"name,omitempty"`
	ImageURL string `json:"image,omitempty"`
}

// MsgClientChan requests the channel with another user {chan}.
type MsgClientChan struct {
	Id string `json:"id,omitempty"`
	// Token of the peer.
	With string `json:"with"`
}

// MsgClientPub is client's request to send a message to the channel {pub}.
type MsgClientPub struct {
	Id string `json:"id,omitempty"`
	// Channel key.
	Topic   string `json:"topic"`
	Content string `json:"content"`
}

// MsgClientGet is a query of channel list or messages {get}.
type MsgClientGet struct {
	Id string `json:"id,omitempty"`
	// "me" for the channel list or a channel key for messages.
	Topic string `json:"topic"`
}

// MsgClientSub starts a live subscription {sub}.
type MsgClientSub struct {
	Id string `json:"id,omitempty"`
	// "me" for the channel list or a channel key for messages.
	Topic string `json:"topic"`
}

// MsgClientLeave is an unsubscribe {leave} request message.
type MsgClientLeave struct {
	Id    string `json:"id,omitempty"`
	Topic string `json:"topic"`
}

// ClientComMessage is a wrapper for client messages.
type ClientComMessage struct {
	Hi    *MsgClientHi    `json:"hi"`
	Chan  *MsgClientChan  `json:"chan"`
	Pub   *MsgClientPub   `json:"pub"`
	Get   *MsgClientGet   `json:"get"`
	Sub   *MsgClientSub   `json:"sub"`
	Leave *MsgClientLeave `json:"leave"`

	// Message ID denormalized
	Id string `json:"-"`
	// Timestamp when this message was received by the server.
	Timestamp time.Time `json:"-"`
}

/////////////////////////////////////////////////////////////
// Server to client messages

// MsgServerCtrl is a server control message {ctrl}.
type MsgServerCtrl struct {
	Id     string      `json:"id,omitempty"`
	Topic  string      `json:"topic,omitempty"`
	Params interface{} `json:"params,omitempty"`

	Code      int       `json:"code"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"ts"`
}

func (src *MsgServerCtrl) describe() string {
	return src.Topic + " id=" + src.Id + " code=" + strconv.Itoa(src.Code) + " txt=" + src.Text
}

// MsgServerData is a single message of a channel.
type MsgServerData struct {
	Id        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"ts"`
	SeqId     int       `json:"seq"`
	Content   string    `json:"content"`
}

// MsgServerMeta is a snapshot of the channel list or of channel messages {meta}.
type MsgServerMeta struct {
	Id        string    `json:"id,omitempty"`
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"ts"`

	// Keys of user's channels, topic "me".
	Chans []string `json:"chans,omitempty"`
	// Messages of the channel ordered by seq.
	Msgs []MsgServerData `json:"msgs,omitempty"`
}

func (src *MsgServerMeta) describe() string {
	return src.Topic + " id=" + src.Id + " chans=" + strconv.Itoa(len(src.Chans)) +
		" msgs=" + strconv.Itoa(len(src.Msgs))
}

// ServerComMessage is a wrapper for server-side messages.
type ServerComMessage struct {
	Ctrl *MsgServerCtrl `json:"ctrl,omitempty"`
	Meta *MsgServerMeta `json:"meta,omitempty"`

	// Id of the client message this is a response to.
	Id string `json:"-"`
}

func (src *ServerComMessage) describe() string {
	if src == nil {
		return "-"
	}

	switch {
	case src.Ctrl != nil:
		return "{ctrl " + src.Ctrl.describe() + "}"
	case src.Meta != nil:
		return "{meta " + src.Meta.describe() + "}"
	default:
		return "{nil}"
	}
}

func channelsSnapshot(id string, keys []types.ChannelKey, ts time.Time) *ServerComMessage {
	chans := make([]string, len(keys))
	for i, key := range keys {
		chans[i] = string(key)
	}
	return &ServerComMessage{Meta: &MsgServerMeta{
		Id:        id,
		Topic:     topicMe,
		Timestamp: ts,
		Chans:     chans,
	}, Id: id}
}

func messagesSnapshot(id string, key types.ChannelKey, msgs []types.Message, ts time.Time) *ServerComMessage {
	data := make([]MsgServerData, len(msgs))
	for i := range msgs {
		data[i] = MsgServerData{
			Id:        msgs[i].Id,
			From:      string(msgs[i].Sender),
			To:        string(msgs[i].Receiver),
			Timestamp: msgs[i].CreatedAt,
			SeqId:     msgs[i].SeqId,
			Content:   msgs[i].Payload,
		}
	}
	return &ServerComMessage{Meta: &MsgServerMeta{
		Id:        id,
		Topic:     string(key),
		Timestamp: ts,
		Msgs:      data,
	}, Id: id}
}

// Generators of server-side error messages {ctrl}.

func ctrl(id, topic string, code int, text string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      code,
		Text:      text,
		Topic:     topic,
		Timestamp: ts}, Id: id}
}

// NoErr indicates successful completion (200)
func NoErr(id, topic string, ts time.Time) *ServerComMessage {
	return NoErrParams(id, topic, ts, nil)
}

// NoErrParams indicates successful completion with additional parameters (200)
func NoErrParams(id, topic string, ts time.Time, params interface{}) *ServerComMessage {
	msg := ctrl(id, topic, http.StatusOK, "ok", ts)
	msg.Ctrl.Params = params
	return msg
}

// NoErrCreated indicated successful creation of an object (201).
func NoErrCreated(id, topic string, ts time.Time, params interface{}) *ServerComMessage {
	msg := ctrl(id, topic, http.StatusCreated, "created", ts)
	msg.Ctrl.Params = params
	return msg
}

// NoErrAccepted indicates request was accepted but not processed yet (202).
func NoErrAccepted(id, topic string, ts time.Time, params interface{}) *ServerComMessage {
	msg := ctrl(id, topic, http.StatusAccepted, "accepted", ts)
	msg.Ctrl.Params = params
	return msg
}

// NoErrShutdown means user was disconnected from topic because system shutdown is in progress (205).
func NoErrShutdown(ts time.Time) *ServerComMessage {
	return ctrl("", "", http.StatusResetContent, "server shutdown", ts)
}

// 4xx Errors

// ErrMalformed request malformed (400).
func ErrMalformed(id, topic string, ts time.Time) *ServerComMessage {
	return ctrl(id, topic, http.StatusBadRequest, "malformed", ts)
}

// ErrAuthRequired authentication required - user must authenticate first (401).
func ErrAuthRequired(id, topic string, ts time.Time) *ServerComMessage {
	return ctrl(id, topic, http.StatusUnauthorized, "authentication required", ts)
}

// ErrAuthFailed authentication failed (401).
func ErrAuthFailed(id, topic string, ts time.Time) *ServerComMessage {
	return ctrl(id, topic, http.StatusUnauthorized, "authentication failed", ts)
}

// ErrPermissionDenied user is authenticated but operation is not permitted (403).
func ErrPermissionDenied(id, topic string, ts time.Time) *ServerComMessage {
	return ctrl(id, topic, http.StatusForbidden, "permission denied", ts)
}

// ErrUserNotFound user is not found (404).
func ErrUserNotFound(id, topic string, ts time.Time) *ServerComMessage {
	return ctrl(id, topic, http.StatusNotFound, "user not found", ts)
}

// ErrChannelNotFound channel is not established (404).
func ErrChannelNotFound(id, topic string, ts time.Time) *ServerComMessage {
	return ctrl(id, topic, http.StatusNotFound, "channel not found", ts)
}

// ErrAlreadyAuthenticated invalid attempt to authenticate an already authenticated session (409).
func ErrAlreadyAuthenticated(id, topic string, ts time.Time) *ServerComMessage {
	return ctrl(id, topic, http.StatusConflict, "already authenticated", ts)
}

// ErrAlreadySubscribed the session is already subscribed to the topic (409).
func ErrAlreadySubscribed(id, topic string, ts time.Time) *ServerComMessage {
	return ctrl(id, topic, http.StatusConflict, "already subscribed", ts)
}

// ErrNotSubscribed the session is not subscribed to the topic (409).
func ErrNotSubscribed(id, topic string, ts time.Time) *ServerComMessage {
	return ctrl(id, topic, http.StatusConflict, "not subscribed", ts)
}

// 5xx Errors

// ErrUnknown database or other server error (500).
func ErrUnknown(id, topic string, ts time.Time) *ServerComMessage {
	return ctrl(id, topic, http.StatusInternalServerError, "internal error", ts)
}

// ErrInconsistent channel memberships could not be confirmed (500).
func ErrInconsistent(id, topic string, ts time.Time) *ServerComMessage {
	return ctrl(id, topic, http.StatusInternalServerError, "registry inconsistent", ts)
}

// ErrUnavailable the store is temporarily unavailable (503).
func ErrUnavailable(id, topic string, ts time.Time) *ServerComMessage {
	return ctrl(id, topic, http.StatusServiceUnavailable, "service unavailable", ts)
}

// decodeStoreError converts an error returned by the store, the hub or the
// authenticator into a {ctrl} message.
func decodeStoreError(err error, id, topic string, ts time.Time) *ServerComMessage {
	switch {
	case err == nil:
		return NoErr(id, topic, ts)
	case errors.Is(err, types.ErrMalformed):
		return ErrMalformed(id, topic, ts)
	case errors.Is(err, types.ErrPeerNotFound), errors.Is(err, types.ErrNotFound):
		return ErrUserNotFound(id, topic, ts)
	case errors.Is(err, types.ErrChannelNotFound):
		return ErrChannelNotFound(id, topic, ts)
	case errors.Is(err, types.ErrRegistryInconsistent):
		return ErrInconsistent(id, topic, ts)
	case errors.Is(err, types.ErrStoreUnavailable), errors.Is(err, live.ErrShutdown):
		return ErrUnavailable(id, topic, ts)
	case errors.Is(err, auth.ErrMalformed), errors.Is(err, auth.ErrFailed), errors.Is(err, auth.ErrExpired):
		return ErrAuthFailed(id, topic, ts)
	}
	return ErrUnknown(id, topic, ts)
}

/******************************************************************************
 *
 *  Description :
 *
 *  Handling of user sessions/connections. One user may have multiple sesions.
 *  Each session may subscribe to the channel list and to several channels.
 *
 *****************************************************************************/

package main

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tinode/pairchat/server/auth"
	"github.com/tinode/pairchat/server/live"
	"github.com/tinode/pairchat/server/logs"
	"github.com/tinode/pairchat/server/store/types"
)

// Maximum number of queued outbound messages. The session is terminated when exceeded.
const sendQueueLimit = 128

// Session represents a single websocket connection.
type Session struct {
	// Websocket. Set only for websocket sessions.
	ws *websocket.Conn

	// IP address of the client.
	remoteAddr string

	// Client's user agent, reported in {hi}.
	userAgent string

	// Session ID
	sid string

	// Authenticated identity; nil until {hi} succeeds. Accessed from the read loop only.
	auth *auth.Session

	// Outbound messages, serialized.
	send chan []byte

	// Channel for shutting down the session, buffer 1.
	// Content in the same format as for 'send'.
	stop chan []byte

	// Live subscriptions of this session indexed by topic.
	subsLock sync.Mutex
	subs     map[string]*live.Subscription

	// Cancelled when the session terminates.
	ctx    context.Context
	cancel context.CancelFunc
}

// queueOut attempts to send a message to the client. It never blocks: if the
// outbound queue is full the message is dropped and the session is terminated.
func (s *Session) queueOut(msg *ServerComMessage) bool {
	if s == nil {
		return true
	}

	data, err := json.Marshal(msg)
	if err != nil {
		logs.Error.Println("s.queueOut: failed to serialize", msg.describe(), err, s.sid)
		return false
	}

	select {
	case <-s.ctx.Done():
		return false
	case s.send <- data:
	default:
		// Never block here since it may also block the hub.
		logs.Error.Println("s.queueOut: session's send queue full", s.sid)
		s.terminate()
		return false
	}
	return true
}

// terminate stops the session from any goroutine.
func (s *Session) terminate() {
	select {
	case s.stop <- nil:
	default:
	}
}

// dispatchRaw parses a raw message and routes it to the handler.
func (s *Session) dispatchRaw(raw []byte) {
	now := types.TimeNow()
	var msg ClientComMessage

	if len(raw) == 1 && raw[0] == '1' {
		// Network probe. Respond with a '0'.
		s.queueOutBytes([]byte{'0'})
		return
	}

	if err := json.Unmarshal(raw, &msg); err != nil {
		// Malformed message
		logs.Warning.Println("s.dispatch", err, s.sid)
		s.queueOut(ErrMalformed("", "", now))
		return
	}

	s.dispatch(&msg)
}

func (s *Session) queueOutBytes(data []byte) {
	select {
	case s.send <- data:
	default:
		logs.Error.Println("s.queueOutBytes: session's send queue full", s.sid)
	}
}

func (s *Session) dispatch(msg *ClientComMessage) {
	msg.Timestamp = types.TimeNow()

	var handler func(*ClientComMessage)
	authRequired := true

	switch {
	case msg.Hi != nil:
		handler = s.hello
		msg.Id = msg.Hi.Id
		authRequired = false

	case msg.Chan != nil:
		handler = s.channel
		msg.Id = msg.Chan.Id

	case msg.Pub != nil:
		handler = s.publish
		msg.Id = msg.Pub.Id

	case msg.Get != nil:
		handler = s.get
		msg.Id = msg.Get.Id

	case msg.Sub != nil:
		handler = s.subscribe
		msg.Id = msg.Sub.Id

	case msg.Leave != nil:
		handler = s.leave
		msg.Id = msg.Leave.Id

	default:
		// Unknown message
		s.queueOut(ErrMalformed("", "", msg.Timestamp))
		logs.Warning.Println("s.dispatch: unknown message", s.sid)
		return
	}

	if authRequired && s.auth == nil {
		s.queueOut(ErrAuthRequired(msg.Id, "", msg.Timestamp))
		return
	}
	handler(msg)
}

// requestContext limits the time a single request may spend in the store.
func (s *Session) requestContext() (context.Context, context.CancelFunc) {
	if globals.requestTimeout > 0 {
		return context.WithTimeout(s.ctx, globals.requestTimeout)
	}
	return context.WithCancel(s.ctx)
}

// hello authenticates the session and creates the user if seen for the first time.
func (s *Session) hello(msg *ClientComMessage) {
	if s.auth != nil {
		s.queueOut(ErrAlreadyAuthenticated(msg.Id, "", msg.Timestamp))
		return
	}

	sess, err := globals.authenticator.Authenticate(msg.Hi.Secret)
	if err != nil {
		logs.Warning.Println("s.hello: authentication failed", err, s.sid)
		s.queueOut(decodeStoreError(err, msg.Id, "", msg.Timestamp))
		return
	}

	ctx, cancel := s.requestContext()
	defer cancel()

	user, err := globals.store.Users.CreateIfAbsent(ctx, &types.User{
		Token:    sess.User,
		Name:     msg.Hi.Name,
		ImageURL: msg.Hi.ImageURL,
	})
	if err != nil {
		s.queueOut(decodeStoreError(err, msg.Id, "", msg.Timestamp))
		return
	}

	s.auth = sess
	s.userAgent = msg.Hi.UserAgent
	logs.Info.Println("s.hello: authenticated", s.sid, s.auth.User)

	s.queueOut(NoErrParams(msg.Id, "", msg.Timestamp, map[string]interface{}{
		"user":    string(user.Token),
		"name":    user.Name,
		"expires": sess.Expires,
		"ver":     currentVersion,
	}))
}

// channel finds or creates the channel with the peer.
func (s *Session) channel(msg *ClientComMessage) {
	ctx, cancel := s.requestContext()
	defer cancel()

	key, err := globals.store.Channels.GetOrCreate(ctx, s.auth.User, types.UserToken(msg.Chan.With))
	if err != nil {
		logs.Warning.Println("s.channel:", err, s.sid)
		s.queueOut(decodeStoreError(err, msg.Id, "", msg.Timestamp))
		return
	}
	s.queueOut(NoErrParams(msg.Id, string(key), msg.Timestamp, map[string]interface{}{
		"channel": string(key),
	}))
}

// peerOf returns the other participant of the channel named by topic or an
// error message if the session's user is not a participant.
func (s *Session) peerOf(msg *ClientComMessage, topic string) (types.ChannelKey, types.UserToken, *ServerComMessage) {
	key := types.ChannelKey(topic)
	first, second, err := types.ParseChannelKey(key)
	if err != nil {
		return "", "", ErrMalformed(msg.Id, topic, msg.Timestamp)
	}
	switch s.auth.User {
	case first:
		return key, second, nil
	case second:
		return key, first, nil
	}
	return "", "", ErrPermissionDenied(msg.Id, topic, msg.Timestamp)
}

// publish appends a message to the channel.
func (s *Session) publish(msg *ClientComMessage) {
	key, peer, errMsg := s.peerOf(msg, msg.Pub.Topic)
	if errMsg != nil {
		s.queueOut(errMsg)
		return
	}

	ctx, cancel := s.requestContext()
	defer cancel()

	stored, err := globals.store.Messages.Append(ctx, key, s.auth.User, peer, msg.Pub.Content)
	if err != nil {
		logs.Warning.Println("s.publish:", err, s.sid)
		s.queueOut(decodeStoreError(err, msg.Id, msg.Pub.Topic, msg.Timestamp))
		return
	}
	s.queueOut(NoErrAccepted(msg.Id, msg.Pub.Topic, msg.Timestamp, map[string]interface{}{
		"id":  stored.Id,
		"seq": stored.SeqId,
	}))
}

// get sends a snapshot of the channel list or of channel messages.
func (s *Session) get(msg *ClientComMessage) {
	ctx, cancel := s.requestContext()
	defer cancel()

	if msg.Get.Topic == topicMe {
		keys, err := globals.store.Channels.List(ctx, s.auth.User)
		if err != nil {
			s.queueOut(decodeStoreError(err, msg.Id, topicMe, msg.Timestamp))
			return
		}
		s.queueOut(channelsSnapshot(msg.Id, keys, msg.Timestamp))
		return
	}

	key, _, errMsg := s.peerOf(msg, msg.Get.Topic)
	if errMsg != nil {
		s.queueOut(errMsg)
		return
	}
	msgs, err := globals.store.Messages.List(ctx, key)
	if err != nil {
		s.queueOut(decodeStoreError(err, msg.Id, msg.Get.Topic, msg.Timestamp))
		return
	}
	s.queueOut(messagesSnapshot(msg.Id, key, msgs, msg.Timestamp))
}

// subscribe starts delivery of snapshots of the channel list or channel messages.
// The {ctrl} response is always queued before the first snapshot.
func (s *Session) subscribe(msg *ClientComMessage) {
	topic := msg.Sub.Topic

	s.subsLock.Lock()
	_, exists := s.subs[topic]
	s.subsLock.Unlock()
	if exists {
		s.queueOut(ErrAlreadySubscribed(msg.Id, topic, msg.Timestamp))
		return
	}

	// Snapshots are held until the response to this request is queued.
	ready := make(chan struct{})
	defer close(ready)
	deliver := func(out *ServerComMessage) {
		select {
		case <-ready:
			s.queueOut(out)
		case <-s.ctx.Done():
		}
	}
	onError := func(err error) {
		deliver(decodeStoreError(err, "", topic, types.TimeNow()))
	}

	var sub *live.Subscription
	var err error
	if topic == topicMe {
		sub, err = globals.hub.SubscribeChannels(s.ctx, s.auth.User, func(keys []types.ChannelKey) {
			deliver(channelsSnapshot("", keys, types.TimeNow()))
		}, onError)
	} else {
		key, _, errMsg := s.peerOf(msg, topic)
		if errMsg != nil {
			s.queueOut(errMsg)
			return
		}
		sub, err = globals.hub.SubscribeMessages(s.ctx, key, func(msgs []types.Message) {
			deliver(messagesSnapshot("", key, msgs, types.TimeNow()))
		}, onError)
	}
	if err != nil {
		logs.Warning.Println("s.subscribe:", topic, err, s.sid)
		s.queueOut(decodeStoreError(err, msg.Id, topic, msg.Timestamp))
		return
	}

	s.subsLock.Lock()
	s.subs[topic] = sub
	s.subsLock.Unlock()

	s.queueOut(NoErr(msg.Id, topic, msg.Timestamp))
}

// leave cancels the subscription.
func (s *Session) leave(msg *ClientComMessage) {
	topic := msg.Leave.Topic

	s.subsLock.Lock()
	sub := s.subs[topic]
	delete(s.subs, topic)
	s.subsLock.Unlock()

	if sub == nil {
		s.queueOut(ErrNotSubscribed(msg.Id, topic, msg.Timestamp))
		return
	}
	sub.Cancel()
	s.queueOut(NoErr(msg.Id, topic, msg.Timestamp))
}

// cleanUp is called when the session is terminated to perform resource cleanup.
func (s *Session) cleanUp() {
	globals.sessionStore.Delete(s)
	s.cancel()

	s.subsLock.Lock()
	for topic, sub := range s.subs {
		sub.Cancel()
		delete(s.subs, topic)
	}
	s.subsLock.Unlock()
}

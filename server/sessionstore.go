/******************************************************************************
 *
 *  Description :
 *
 *  Registry of live sessions.
 *
 *****************************************************************************/

package main

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tinode/pairchat/server/live"
	"github.com/tinode/pairchat/server/logs"
	"github.com/tinode/pairchat/server/store/types"
)

// SessionStore holds live sessions indexed by session ID.
type SessionStore struct {
	lock sync.Mutex

	// All sessions indexed by session ID
	sessCache map[string]*Session
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessCache: make(map[string]*Session)}
}

// NewSession creates a new session and saves it to the session store.
func (ss *SessionStore) NewSession(ws *websocket.Conn, sid string) (*Session, int) {
	s := &Session{
		ws:   ws,
		sid:  sid,
		subs: make(map[string]*live.Subscription),
		send: make(chan []byte, sendQueueLimit), // buffered
		stop: make(chan []byte, 1),              // Buffered by 1 just to make it non-blocking
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if s.sid == "" {
		s.sid = globals.store.GetUidString()
	}

	ss.lock.Lock()
	ss.sessCache[s.sid] = s
	count := len(ss.sessCache)
	ss.lock.Unlock()

	return s, count
}

// Get fetches a session from store by session ID.
func (ss *SessionStore) Get(sid string) *Session {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	return ss.sessCache[sid]
}

// Delete removes session from store.
func (ss *SessionStore) Delete(s *Session) int {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	delete(ss.sessCache, s.sid)
	return len(ss.sessCache)
}

// Len returns the number of live sessions.
func (ss *SessionStore) Len() int {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	return len(ss.sessCache)
}

// Shutdown notifies all sessions of the shutdown and terminates them.
func (ss *SessionStore) Shutdown() {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	shutdown, _ := json.Marshal(NoErrShutdown(types.TimeNow()))
	for _, s := range ss.sessCache {
		select {
		case s.stop <- shutdown:
		default:
		}
	}

	logs.Info.Printf("SessionStore shut down, sessions terminated: %d", len(ss.sessCache))
}

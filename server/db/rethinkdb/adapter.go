// Package rethinkdb is a database adapter for RethinkDB. Live feeds use changefeeds.
package rethinkdb

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	rdb "gopkg.in/rethinkdb/rethinkdb-go.v6"
	"gopkg.in/rethinkdb/rethinkdb-go.v6/encoding"

	db "github.com/tinode/pairchat/server/db"
	"github.com/tinode/pairchat/server/db/common"
	"github.com/tinode/pairchat/server/logs"
	"github.com/tinode/pairchat/server/store"
	t "github.com/tinode/pairchat/server/store/types"
)

// adapter holds RethinkDb connection data.
type adapter struct {
	conn   *rdb.Session
	dbName string
}

const (
	defaultHost     = "localhost:28015"
	defaultDatabase = "pairchat"

	adapterName = "rethinkdb"
)

// See https://godoc.org/github.com/rethinkdb/rethinkdb-go#ConnectOpts for explanations.
type configType struct {
	Database          string      `json:"database,omitempty"`
	Addresses         interface{} `json:"addresses,omitempty"`
	Username          string      `json:"username,omitempty"`
	Password          string      `json:"password,omitempty"`
	AuthKey           string      `json:"authkey,omitempty"`
	Timeout           int         `json:"timeout,omitempty"`
	WriteTimeout      int         `json:"write_timeout,omitempty"`
	ReadTimeout       int         `json:"read_timeout,omitempty"`
	KeepAlivePeriod   int         `json:"keep_alive_timeout,omitempty"`
	InitialCap        int         `json:"initial_cap,omitempty"`
	MaxOpen           int         `json:"max_open,omitempty"`
	DiscoverHosts     bool        `json:"discover_hosts,omitempty"`
	HostDecayDuration int         `json:"host_decay_duration,omitempty"`
}

// Open initializes rethinkdb session
func (a *adapter) Open(jsonconfig json.RawMessage) error {
	if a.conn != nil {
		return errors.New("adapter rethinkdb is already connected")
	}

	var err error
	var config configType
	if err = json.Unmarshal(jsonconfig, &config); err != nil {
		return errors.New("adapter rethinkdb failed to parse config: " + err.Error())
	}

	var opts rdb.ConnectOpts

	if config.Addresses == nil {
		opts.Address = defaultHost
	} else if host, ok := config.Addresses.(string); ok {
		opts.Address = host
	} else if ihosts, ok := config.Addresses.([]interface{}); ok && len(ihosts) > 0 {
		hosts := make([]string, len(ihosts))
		for i, ih := range ihosts {
			h, ok := ih.(string)
			if !ok || h == "" {
				return errors.New("adapter rethinkdb invalid config.Addresses value")
			}
			hosts[i] = h
		}
		opts.Addresses = hosts
	} else {
		return errors.New("adapter rethinkdb failed to parse config.Addresses")
	}

	if config.Database == "" {
		a.dbName = defaultDatabase
	} else {
		a.dbName = config.Database
	}

	opts.Database = a.dbName
	opts.Username = config.Username
	opts.Password = config.Password
	opts.AuthKey = config.AuthKey
	opts.Timeout = time.Duration(config.Timeout) * time.Second
	opts.WriteTimeout = time.Duration(config.WriteTimeout) * time.Second
	opts.ReadTimeout = time.Duration(config.ReadTimeout) * time.Second
	opts.KeepAlivePeriod = time.Duration(config.KeepAlivePeriod) * time.Second
	opts.InitialCap = config.InitialCap
	opts.MaxOpen = config.MaxOpen
	opts.DiscoverHosts = config.DiscoverHosts
	opts.HostDecayDuration = time.Duration(config.HostDecayDuration) * time.Second

	a.conn, err = rdb.Connect(opts)
	if err != nil {
		a.conn = nil
	}
	return err
}

// Close closes the underlying database connection
func (a *adapter) Close() error {
	var err error
	if a.conn != nil {
		// Close will wait for all outstanding requests to finish
		err = a.conn.Close()
		a.conn = nil
	}
	return err
}

// IsOpen returns true if connection to database has been established. It does not check if
// connection is actually live.
func (a *adapter) IsOpen() bool {
	return a.conn != nil
}

// GetName returns string that adapter uses to register itself with store.
func (a *adapter) GetName() string {
	return adapterName
}

// CreateDb initializes the storage. If reset is true, the database is first deleted losing all the data.
func (a *adapter) CreateDb(reset bool) error {
	// Drop database if exists, ignore error if it does not.
	if reset {
		rdb.DBDrop(a.dbName).RunWrite(a.conn)
	}

	if _, err := rdb.DBCreate(a.dbName).RunWrite(a.conn); err != nil {
		return err
	}

	for _, table := range []string{"users", "channels", "memberships", "messages"} {
		if _, err := rdb.DB(a.dbName).TableCreate(table, rdb.TableCreateOpts{PrimaryKey: "Id"}).RunWrite(a.conn); err != nil {
			return err
		}
	}
	// Channels of a user.
	if _, err := rdb.DB(a.dbName).Table("channels").IndexCreate("Participants",
		rdb.IndexCreateOpts{Multi: true}).RunWrite(a.conn); err != nil {
		return err
	}
	// Messages of a channel in order.
	if _, err := rdb.DB(a.dbName).Table("messages").IndexCreateFunc("Channel_SeqId",
		func(row rdb.Term) interface{} {
			return []interface{}{row.Field("Channel"), row.Field("SeqId")}
		}).RunWrite(a.conn); err != nil {
		return err
	}

	for _, table := range []string{"channels", "messages"} {
		if _, err := rdb.DB(a.dbName).Table(table).IndexWait().Run(a.conn); err != nil {
			return err
		}
	}
	return nil
}

func runOpts(ctx context.Context) rdb.RunOpts {
	return rdb.RunOpts{Context: ctx}
}

// UserCreate creates user record
func (a *adapter) UserCreate(ctx context.Context, user *t.User) error {
	_, err := rdb.DB(a.dbName).Table("users").Insert(user, rdb.InsertOpts{Conflict: "error"}).
		RunWrite(a.conn, runOpts(ctx))
	if rdb.IsConflictErr(err) {
		return t.ErrDuplicate
	}
	return err
}

// UserGet fetches a single user by token. If user is not found it returns (nil, nil)
func (a *adapter) UserGet(ctx context.Context, token t.UserToken) (*t.User, error) {
	cursor, err := rdb.DB(a.dbName).Table("users").Get(token).Run(a.conn, runOpts(ctx))
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var user t.User
	if err = cursor.One(&user); err != nil {
		if err == rdb.ErrEmptyResult {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// ChannelCreate creates a channel record.
func (a *adapter) ChannelCreate(ctx context.Context, ch *t.Channel) error {
	_, err := rdb.DB(a.dbName).Table("channels").Insert(ch, rdb.InsertOpts{Conflict: "error"}).
		RunWrite(a.conn, runOpts(ctx))
	if rdb.IsConflictErr(err) {
		return t.ErrDuplicate
	}
	return err
}

// ChannelGet loads a single channel.
func (a *adapter) ChannelGet(ctx context.Context, key t.ChannelKey) (*t.Channel, error) {
	cursor, err := rdb.DB(a.dbName).Table("channels").Get(key).Run(a.conn, runOpts(ctx))
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var ch t.Channel
	if err = cursor.One(&ch); err != nil {
		if err == rdb.ErrEmptyResult {
			return nil, nil
		}
		return nil, err
	}
	return &ch, nil
}

// ChannelsForUser returns keys of the user's channels.
func (a *adapter) ChannelsForUser(ctx context.Context, user t.UserToken) ([]t.ChannelKey, error) {
	cursor, err := rdb.DB(a.dbName).Table("channels").GetAllByIndex("Participants", user).
		Field("Id").Run(a.conn, runOpts(ctx))
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var keys []t.ChannelKey
	if err = cursor.All(&keys); err != nil {
		return nil, err
	}
	return common.SortKeys(keys), nil
}

// ChannelGetAll pages through channels ordered by key.
func (a *adapter) ChannelGetAll(ctx context.Context, after t.ChannelKey, limit int) ([]t.Channel, error) {
	q := rdb.DB(a.dbName).Table("channels").
		Between(after, rdb.MaxVal, rdb.BetweenOpts{LeftBound: "open"}).
		OrderBy(rdb.OrderByOpts{Index: "Id"})
	if limit > 0 {
		q = q.Limit(limit)
	}
	cursor, err := q.Run(a.conn, runOpts(ctx))
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var channels []t.Channel
	if err = cursor.All(&channels); err != nil {
		return nil, err
	}
	return channels, nil
}

// MembershipUpsert creates or replaces the index entry.
func (a *adapter) MembershipUpsert(ctx context.Context, m *t.Membership) error {
	_, err := rdb.DB(a.dbName).Table("memberships").Insert(m, rdb.InsertOpts{Conflict: "replace"}).
		RunWrite(a.conn, runOpts(ctx))
	return err
}

// MembershipGet reads an index entry.
func (a *adapter) MembershipGet(ctx context.Context, owner, peer t.UserToken) (*t.Membership, error) {
	cursor, err := rdb.DB(a.dbName).Table("memberships").Get(t.MembershipID(owner, peer)).Run(a.conn, runOpts(ctx))
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var m t.Membership
	if err = cursor.One(&m); err != nil {
		if err == rdb.ErrEmptyResult {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// MessageAppend increments channel's SeqId and saves the message with the new value.
func (a *adapter) MessageAppend(ctx context.Context, msg *t.Message) error {
	res, err := rdb.DB(a.dbName).Table("channels").Get(msg.Channel).
		Update(map[string]interface{}{
			"SeqId":     rdb.Row.Field("SeqId").Add(1),
			"TouchedAt": msg.CreatedAt,
		}, rdb.UpdateOpts{ReturnChanges: true}).RunWrite(a.conn, runOpts(ctx))
	if err != nil {
		return err
	}
	if res.Skipped > 0 || len(res.Changes) == 0 {
		return t.ErrChannelNotFound
	}

	var ch t.Channel
	if err = encoding.Decode(&ch, res.Changes[0].NewValue); err != nil {
		return err
	}
	msg.SeqId = ch.SeqId

	_, err = rdb.DB(a.dbName).Table("messages").Insert(msg).RunWrite(a.conn, runOpts(ctx))
	return err
}

// MessageGetAll returns all messages of the channel. Documents which fail to decode are skipped.
func (a *adapter) MessageGetAll(ctx context.Context, key t.ChannelKey) ([]t.Message, error) {
	cursor, err := rdb.DB(a.dbName).Table("messages").
		Between([]interface{}{key, rdb.MinVal}, []interface{}{key, rdb.MaxVal},
			rdb.BetweenOpts{Index: "Channel_SeqId"}).
		OrderBy(rdb.OrderByOpts{Index: "Channel_SeqId"}).Run(a.conn, runOpts(ctx))
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	msgs := []t.Message{}
	var raw map[string]interface{}
	for cursor.Next(&raw) {
		var msg t.Message
		if err := encoding.Decode(&msg, raw); err != nil {
			logs.Warning.Printf("rethinkdb: skipping malformed message in '%s': %v", key, err)
		} else {
			msgs = append(msgs, msg)
		}
		raw = nil
	}
	return msgs, cursor.Err()
}

// watch runs a changefeed on the filtered table until the feed is closed.
func (a *adapter) watch(ctx context.Context, query rdb.Term) db.Feed {
	feed := common.NewFeed(nil)
	common.RunStream(ctx, feed, func(ctx context.Context, signal func()) error {
		cursor, err := query.Changes().Run(a.conn, runOpts(ctx))
		if err != nil {
			return err
		}
		go func() {
			<-ctx.Done()
			cursor.Close()
		}()
		var change rdb.ChangeResponse
		for cursor.Next(&change) {
			signal()
		}
		return cursor.Err()
	})
	return feed
}

// WatchChannels subscribes to changes of channels the user participates in.
func (a *adapter) WatchChannels(ctx context.Context, user t.UserToken) (db.Feed, error) {
	if a.conn == nil {
		return nil, errors.New("adapter rethinkdb is not connected")
	}
	return a.watch(ctx, rdb.DB(a.dbName).Table("channels").
		Filter(rdb.Row.Field("Participants").Contains(user))), nil
}

// WatchMessages subscribes to messages added to the channel.
func (a *adapter) WatchMessages(ctx context.Context, key t.ChannelKey) (db.Feed, error) {
	if a.conn == nil {
		return nil, errors.New("adapter rethinkdb is not connected")
	}
	return a.watch(ctx, rdb.DB(a.dbName).Table("messages").
		Filter(rdb.Row.Field("Channel").Eq(key))), nil
}

// GetTestAdapter returns an adapter object. It's required for running tests.
func GetTestAdapter() db.Adapter {
	return &adapter{}
}

// GetTestDB returns the session and the database name. Used by tests only.
func (a *adapter) GetTestDB() (*rdb.Session, string) {
	return a.conn, a.dbName
}

func init() {
	store.RegisterAdapter(&adapter{})
}

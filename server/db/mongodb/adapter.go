// Package mongodb is a database adapter for MongoDB.
// Live feeds use change streams, which require a replica set.
package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	b "go.mongodb.org/mongo-driver/bson"
	mdb "go.mongodb.org/mongo-driver/mongo"
	mdbopts "go.mongodb.org/mongo-driver/mongo/options"

	db "github.com/tinode/pairchat/server/db"
	"github.com/tinode/pairchat/server/db/common"
	"github.com/tinode/pairchat/server/logs"
	"github.com/tinode/pairchat/server/store"
	t "github.com/tinode/pairchat/server/store/types"
)

// adapter holds MongoDB connection data.
type adapter struct {
	conn   *mdb.Client
	db     *mdb.Database
	dbName string
	ctx    context.Context
}

const (
	defaultHost     = "localhost:27017"
	defaultDatabase = "pairchat"

	adapterName = "mongodb"
)

// See https://godoc.org/go.mongodb.org/mongo-driver/mongo/options#ClientOptions for explanations.
type configType struct {
	Addresses      interface{} `json:"addresses,omitempty"`
	ConnectTimeout int         `json:"timeout,omitempty"`

	// Options separately from ClientOptions (custom options):
	Database   string `json:"database,omitempty"`
	ReplicaSet string `json:"replica_set,omitempty"`

	AuthSource string `json:"auth_source,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
}

// Open initializes mongodb session
func (a *adapter) Open(jsonconfig json.RawMessage) error {
	if a.conn != nil {
		return errors.New("adapter mongodb is already connected")
	}

	var err error
	var config configType
	if err = json.Unmarshal(jsonconfig, &config); err != nil {
		return errors.New("adapter mongodb failed to parse config: " + err.Error())
	}

	var opts mdbopts.ClientOptions

	if config.Addresses == nil {
		opts.SetHosts([]string{defaultHost})
	} else if host, ok := config.Addresses.(string); ok {
		opts.SetHosts([]string{host})
	} else if ihosts, ok := config.Addresses.([]interface{}); ok && len(ihosts) > 0 {
		hosts := make([]string, len(ihosts))
		for i, ih := range ihosts {
			h, ok := ih.(string)
			if !ok || h == "" {
				return errors.New("adapter mongodb invalid config.Addresses value")
			}
			hosts[i] = h
		}
		opts.SetHosts(hosts)
	} else {
		return errors.New("adapter mongodb failed to parse config.Addresses")
	}

	if config.Database == "" {
		a.dbName = defaultDatabase
	} else {
		a.dbName = config.Database
	}

	if config.ReplicaSet == "" {
		logs.Warning.Println("MongoDB configured as standalone or replica_set option not set. Live feeds will not work.")
	} else {
		opts.SetReplicaSet(config.ReplicaSet)
	}

	if config.Username != "" {
		var passwordSet bool
		if config.AuthSource == "" {
			config.AuthSource = "admin"
		}
		if config.Password != "" {
			passwordSet = true
		}
		opts.SetAuth(
			mdbopts.Credential{
				AuthMechanism: "SCRAM-SHA-256",
				AuthSource:    config.AuthSource,
				Username:      config.Username,
				Password:      config.Password,
				PasswordSet:   passwordSet,
			})
	}

	if config.ConnectTimeout > 0 {
		opts.SetConnectTimeout(time.Duration(config.ConnectTimeout) * time.Second)
	}

	a.ctx = context.Background()
	a.conn, err = mdb.Connect(a.ctx, &opts)
	if err != nil {
		a.conn = nil
		return err
	}
	a.db = a.conn.Database(a.dbName)

	return nil
}

// Close the adapter
func (a *adapter) Close() error {
	var err error
	if a.conn != nil {
		err = a.conn.Disconnect(a.ctx)
		a.conn = nil
	}
	return err
}

// IsOpen checks if the adapter is ready for use
func (a *adapter) IsOpen() bool {
	return a.conn != nil
}

// GetName returns the name of the adapter
func (a *adapter) GetName() string {
	return adapterName
}

// CreateDb creates the database optionally dropping an existing database first.
func (a *adapter) CreateDb(reset bool) error {
	if reset {
		logs.Info.Print("Dropping database...")
		if err := a.db.Drop(a.ctx); err != nil {
			return err
		}
	}
	// Collections do not need to be explicitly created since MongoDB creates them with first write operation

	indexes := []struct {
		Collection string
		IndexOpts  mdb.IndexModel
	}{
		// Channels a user participates in.
		{
			Collection: "channels",
			IndexOpts:  mdb.IndexModel{Keys: b.D{{Key: "participants", Value: 1}}},
		},
		// Index entries of the owner.
		{
			Collection: "memberships",
			IndexOpts:  mdb.IndexModel{Keys: b.D{{Key: "owner", Value: 1}}},
		},
		// Compound index of 'channel - seqid' for selecting messages in a channel.
		{
			Collection: "messages",
			IndexOpts: mdb.IndexModel{
				Keys:    b.D{{Key: "channel", Value: 1}, {Key: "seqid", Value: 1}},
				Options: mdbopts.Index().SetUnique(true),
			},
		},
	}

	for _, idx := range indexes {
		if _, err := a.db.Collection(idx.Collection).Indexes().CreateOne(a.ctx, idx.IndexOpts); err != nil {
			return err
		}
	}
	return nil
}

// UserCreate creates user record
func (a *adapter) UserCreate(ctx context.Context, user *t.User) error {
	if _, err := a.db.Collection("users").InsertOne(ctx, user); err != nil {
		if mdb.IsDuplicateKeyError(err) {
			return t.ErrDuplicate
		}
		return err
	}
	return nil
}

// UserGet fetches a single user by token. If user is not found it returns (nil, nil)
func (a *adapter) UserGet(ctx context.Context, token t.UserToken) (*t.User, error) {
	var user t.User
	if err := a.db.Collection("users").FindOne(ctx, b.M{"_id": token}).Decode(&user); err != nil {
		if err == mdb.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// ChannelCreate creates a channel record.
func (a *adapter) ChannelCreate(ctx context.Context, ch *t.Channel) error {
	if _, err := a.db.Collection("channels").InsertOne(ctx, ch); err != nil {
		if mdb.IsDuplicateKeyError(err) {
			return t.ErrDuplicate
		}
		return err
	}
	return nil
}

// ChannelGet loads a single channel.
func (a *adapter) ChannelGet(ctx context.Context, key t.ChannelKey) (*t.Channel, error) {
	var ch t.Channel
	if err := a.db.Collection("channels").FindOne(ctx, b.M{"_id": key}).Decode(&ch); err != nil {
		if err == mdb.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &ch, nil
}

// ChannelsForUser returns keys of the user's channels.
func (a *adapter) ChannelsForUser(ctx context.Context, user t.UserToken) ([]t.ChannelKey, error) {
	findOpts := mdbopts.Find().
		SetProjection(b.M{"_id": 1}).
		SetSort(b.D{{Key: "_id", Value: 1}})
	cur, err := a.db.Collection("channels").Find(ctx, b.M{"participants": user}, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var keys []t.ChannelKey
	for cur.Next(ctx) {
		var rec struct {
			Key t.ChannelKey `bson:"_id"`
		}
		if err := cur.Decode(&rec); err != nil {
			return nil, err
		}
		keys = append(keys, rec.Key)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return common.SortKeys(keys), nil
}

// ChannelGetAll pages through channels ordered by key.
func (a *adapter) ChannelGetAll(ctx context.Context, after t.ChannelKey, limit int) ([]t.Channel, error) {
	findOpts := mdbopts.Find().SetSort(b.D{{Key: "_id", Value: 1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	cur, err := a.db.Collection("channels").Find(ctx, b.M{"_id": b.M{"$gt": after}}, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var channels []t.Channel
	if err := cur.All(ctx, &channels); err != nil {
		return nil, err
	}
	return channels, nil
}

// MembershipUpsert creates or replaces the index entry.
func (a *adapter) MembershipUpsert(ctx context.Context, m *t.Membership) error {
	_, err := a.db.Collection("memberships").ReplaceOne(ctx, b.M{"_id": m.Id}, m,
		mdbopts.Replace().SetUpsert(true))
	if mdb.IsDuplicateKeyError(err) {
		// Two concurrent upserts of the same entry: the other one has written it.
		return nil
	}
	return err
}

// MembershipGet reads an index entry.
func (a *adapter) MembershipGet(ctx context.Context, owner, peer t.UserToken) (*t.Membership, error) {
	var m t.Membership
	if err := a.db.Collection("memberships").FindOne(ctx, b.M{"_id": t.MembershipID(owner, peer)}).Decode(&m); err != nil {
		if err == mdb.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// MessageAppend increments channel's SeqId and saves the message with the new value.
func (a *adapter) MessageAppend(ctx context.Context, msg *t.Message) error {
	var ch t.Channel
	err := a.db.Collection("channels").FindOneAndUpdate(ctx,
		b.M{"_id": msg.Channel},
		b.M{"$inc": b.M{"seqid": 1}, "$set": b.M{"touchedat": msg.CreatedAt}},
		mdbopts.FindOneAndUpdate().SetReturnDocument(mdbopts.After)).Decode(&ch)
	if err != nil {
		if err == mdb.ErrNoDocuments {
			return t.ErrChannelNotFound
		}
		return err
	}

	msg.SeqId = ch.SeqId
	_, err = a.db.Collection("messages").InsertOne(ctx, msg)
	return err
}

// MessageGetAll returns all messages of the channel. Documents which fail to decode are skipped.
func (a *adapter) MessageGetAll(ctx context.Context, key t.ChannelKey) ([]t.Message, error) {
	findOpts := mdbopts.Find().SetSort(b.D{{Key: "seqid", Value: 1}})
	cur, err := a.db.Collection("messages").Find(ctx, b.M{"channel": key}, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	msgs := []t.Message{}
	for cur.Next(ctx) {
		var msg t.Message
		if err := cur.Decode(&msg); err != nil {
			logs.Warning.Printf("mongodb: skipping malformed message in '%s': %v", key, err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, cur.Err()
}

// watch runs a change stream on the collection until the feed is closed.
func (a *adapter) watch(ctx context.Context, collection string, match b.M) db.Feed {
	feed := common.NewFeed(nil)
	pipeline := mdb.Pipeline{b.D{{Key: "$match", Value: match}}}
	csOpts := mdbopts.ChangeStream().SetFullDocument(mdbopts.UpdateLookup)

	common.RunStream(ctx, feed, func(ctx context.Context, signal func()) error {
		cs, err := a.db.Collection(collection).Watch(ctx, pipeline, csOpts)
		if err != nil {
			return err
		}
		defer cs.Close(context.Background())
		for cs.Next(ctx) {
			signal()
		}
		return cs.Err()
	})
	return feed
}

// WatchChannels subscribes to changes of channels the user participates in.
func (a *adapter) WatchChannels(ctx context.Context, user t.UserToken) (db.Feed, error) {
	if a.conn == nil {
		return nil, errors.New("adapter mongodb is not connected")
	}
	return a.watch(ctx, "channels", b.M{"fullDocument.participants": user}), nil
}

// WatchMessages subscribes to messages added to the channel.
func (a *adapter) WatchMessages(ctx context.Context, key t.ChannelKey) (db.Feed, error) {
	if a.conn == nil {
		return nil, errors.New("adapter mongodb is not connected")
	}
	return a.watch(ctx, "messages", b.M{"operationType": "insert", "fullDocument.channel": key}), nil
}

// GetTestAdapter returns an adapter object. It's required for running tests.
func GetTestAdapter() db.Adapter {
	return &adapter{}
}

// GetTestDB returns the underlying database. Used by tests only.
func (a *adapter) GetTestDB() *mdb.Database {
	return a.db
}

func init() {
	store.RegisterAdapter(&adapter{})
}

// Package firestore is a database adapter for Google Cloud Firestore.
//
// Messages are stored in a subcollection of the channel document. Live feeds
// use snapshot listeners.
package firestore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"

	gcf "cloud.google.com/go/firestore"
	fbase "firebase.google.com/go"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	db "github.com/tinode/pairchat/server/db"
	"github.com/tinode/pairchat/server/db/common"
	"github.com/tinode/pairchat/server/logs"
	"github.com/tinode/pairchat/server/store"
	t "github.com/tinode/pairchat/server/store/types"
)

// adapter holds Firestore client.
type adapter struct {
	client *gcf.Client
	// Prefix of collection names. Allows several databases in one project.
	prefix string
}

const (
	adapterName = "firestore"

	// Set by the emulator. No credentials are needed when it's present.
	emulatorHostEnv = "FIRESTORE_EMULATOR_HOST"

	userDocPrefix = "usr"
)

type configType struct {
	ProjectID       string          `json:"project_id"`
	Credentials     json.RawMessage `json:"credentials,omitempty"`
	CredentialsFile string          `json:"credentials_file,omitempty"`
	// Optional prefix of collection names.
	Database string `json:"database,omitempty"`
}

// Open initializes Firestore client.
func (a *adapter) Open(jsonconfig json.RawMessage) error {
	if a.client != nil {
		return errors.New("adapter firestore is already connected")
	}

	var err error
	var config configType
	if err = json.Unmarshal(jsonconfig, &config); err != nil {
		return errors.New("adapter firestore failed to parse config: " + err.Error())
	}

	ctx := context.Background()
	if os.Getenv(emulatorHostEnv) != "" {
		if config.ProjectID == "" {
			config.ProjectID = "pairchat-test"
		}
		a.client, err = gcf.NewClient(ctx, config.ProjectID)
	} else {
		if config.Credentials == nil && config.CredentialsFile != "" {
			if config.Credentials, err = os.ReadFile(config.CredentialsFile); err != nil {
				return err
			}
		}
		if config.Credentials == nil {
			return errors.New("adapter firestore missing credentials")
		}
		credentials, err := google.CredentialsFromJSON(ctx, config.Credentials,
			"https://www.googleapis.com/auth/datastore")
		if err != nil {
			return err
		}
		if config.ProjectID == "" {
			config.ProjectID = credentials.ProjectID
		}
		app, err := fbase.NewApp(ctx, &fbase.Config{ProjectID: config.ProjectID}, option.WithCredentials(credentials))
		if err != nil {
			return err
		}
		a.client, err = app.Firestore(ctx)
		if err != nil {
			a.client = nil
			return err
		}
	}
	if err != nil {
		a.client = nil
		return err
	}

	if config.Database != "" {
		a.prefix = config.Database + "_"
	}
	return nil
}

// Close the adapter
func (a *adapter) Close() error {
	var err error
	if a.client != nil {
		err = a.client.Close()
		a.client = nil
	}
	return err
}

// IsOpen checks if the adapter is ready for use
func (a *adapter) IsOpen() bool {
	return a.client != nil
}

// GetName returns the name of the adapter
func (a *adapter) GetName() string {
	return adapterName
}

func (a *adapter) users() *gcf.CollectionRef {
	return a.client.Collection(a.prefix + "users")
}

func (a *adapter) channels() *gcf.CollectionRef {
	return a.client.Collection(a.prefix + "channels")
}

func (a *adapter) memberships() *gcf.CollectionRef {
	return a.client.Collection(a.prefix + "memberships")
}

func (a *adapter) messages(key t.ChannelKey) *gcf.CollectionRef {
	return a.channels().Doc(string(key)).Collection("messages")
}

// userDocID converts arbitrary token into a valid document id.
func userDocID(token t.UserToken) string {
	return userDocPrefix + base64.RawURLEncoding.EncodeToString([]byte(token))
}

// CreateDb deletes all documents if reset is true. Firestore has no schema.
func (a *adapter) CreateDb(reset bool) error {
	if !reset {
		return nil
	}

	ctx := context.Background()
	logs.Info.Print("Deleting all documents...")

	chans := a.channels().DocumentRefs(ctx)
	for {
		ref, err := chans.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return err
		}
		if err = deleteAll(ctx, ref.Collection("messages").DocumentRefs(ctx)); err != nil {
			return err
		}
		if _, err = ref.Delete(ctx); err != nil {
			return err
		}
	}
	if err := deleteAll(ctx, a.memberships().DocumentRefs(ctx)); err != nil {
		return err
	}
	return deleteAll(ctx, a.users().DocumentRefs(ctx))
}

func deleteAll(ctx context.Context, refs *gcf.DocumentRefIterator) error {
	for {
		ref, err := refs.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err = ref.Delete(ctx); err != nil {
			return err
		}
	}
}

// UserCreate creates user record
func (a *adapter) UserCreate(ctx context.Context, user *t.User) error {
	_, err := a.users().Doc(userDocID(user.Token)).Create(ctx, user)
	if status.Code(err) == codes.AlreadyExists {
		return t.ErrDuplicate
	}
	return err
}

// UserGet fetches a single user by token. If user is not found it returns (nil, nil)
func (a *adapter) UserGet(ctx context.Context, token t.UserToken) (*t.User, error) {
	snap, err := a.users().Doc(userDocID(token)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var user t.User
	if err = snap.DataTo(&user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ChannelCreate creates a channel record.
func (a *adapter) ChannelCreate(ctx context.Context, ch *t.Channel) error {
	_, err := a.channels().Doc(string(ch.Key)).Create(ctx, ch)
	if status.Code(err) == codes.AlreadyExists {
		return t.ErrDuplicate
	}
	return err
}

// ChannelGet loads a single channel.
func (a *adapter) ChannelGet(ctx context.Context, key t.ChannelKey) (*t.Channel, error) {
	snap, err := a.channels().Doc(string(key)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ch t.Channel
	if err = snap.DataTo(&ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// ChannelsForUser returns keys of the user's channels.
func (a *adapter) ChannelsForUser(ctx context.Context, user t.UserToken) ([]t.ChannelKey, error) {
	docs := a.channels().Where("participants", "array-contains", string(user)).Select().Documents(ctx)
	defer docs.Stop()

	var keys []t.ChannelKey
	for {
		snap, err := docs.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		keys = append(keys, t.ChannelKey(snap.Ref.ID))
	}
	return common.SortKeys(keys), nil
}

// ChannelGetAll pages through channels ordered by key.
func (a *adapter) ChannelGetAll(ctx context.Context, after t.ChannelKey, limit int) ([]t.Channel, error) {
	q := a.channels().OrderBy(gcf.DocumentID, gcf.Asc)
	if after != "" {
		q = q.StartAfter(string(after))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	docs := q.Documents(ctx)
	defer docs.Stop()

	var channels []t.Channel
	for {
		snap, err := docs.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var ch t.Channel
		if err = snap.DataTo(&ch); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

// MembershipUpsert creates or replaces the index entry.
func (a *adapter) MembershipUpsert(ctx context.Context, m *t.Membership) error {
	_, err := a.memberships().Doc(m.Id).Set(ctx, m)
	return err
}

// MembershipGet reads an index entry.
func (a *adapter) MembershipGet(ctx context.Context, owner, peer t.UserToken) (*t.Membership, error) {
	snap, err := a.memberships().Doc(t.MembershipID(owner, peer)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m t.Membership
	if err = snap.DataTo(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// MessageAppend increments channel's SeqId and saves the message with the new value
// in one transaction.
func (a *adapter) MessageAppend(ctx context.Context, msg *t.Message) error {
	chRef := a.channels().Doc(string(msg.Channel))
	msgRef := a.messages(msg.Channel).Doc(msg.Id)

	return a.client.RunTransaction(ctx, func(ctx context.Context, tx *gcf.Transaction) error {
		snap, err := tx.Get(chRef)
		if status.Code(err) == codes.NotFound {
			return t.ErrChannelNotFound
		}
		if err != nil {
			return err
		}
		var ch t.Channel
		if err = snap.DataTo(&ch); err != nil {
			return err
		}

		msg.SeqId = ch.SeqId + 1
		if err = tx.Update(chRef, []gcf.Update{
			{Path: "seq", Value: msg.SeqId},
			{Path: "touchedAt", Value: msg.CreatedAt},
		}); err != nil {
			return err
		}
		return tx.Create(msgRef, msg)
	})
}

// MessageGetAll returns all messages of the channel. Documents which fail to decode are skipped.
func (a *adapter) MessageGetAll(ctx context.Context, key t.ChannelKey) ([]t.Message, error) {
	docs := a.messages(key).OrderBy("seq", gcf.Asc).Documents(ctx)
	defer docs.Stop()

	msgs := []t.Message{}
	for {
		snap, err := docs.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var msg t.Message
		if err := snap.DataTo(&msg); err != nil {
			logs.Warning.Printf("firestore: skipping malformed message '%s' in '%s': %v", snap.Ref.ID, key, err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// WatchChannels listens to snapshots of the user's channels.
func (a *adapter) WatchChannels(ctx context.Context, user t.UserToken) (db.Feed, error) {
	if a.client == nil {
		return nil, errors.New("adapter firestore is not connected")
	}
	q := a.channels().Where("participants", "array-contains", string(user))

	feed := common.NewFeed(nil)
	common.RunStream(ctx, feed, func(ctx context.Context, signal func()) error {
		it := q.Snapshots(ctx)
		defer it.Stop()
		for {
			if _, err := it.Next(); err != nil {
				return err
			}
			signal()
		}
	})
	return feed, nil
}

// WatchMessages listens to the channel document which changes with every appended message.
func (a *adapter) WatchMessages(ctx context.Context, key t.ChannelKey) (db.Feed, error) {
	if a.client == nil {
		return nil, errors.New("adapter firestore is not connected")
	}
	ref := a.channels().Doc(string(key))

	feed := common.NewFeed(nil)
	common.RunStream(ctx, feed, func(ctx context.Context, signal func()) error {
		it := ref.Snapshots(ctx)
		defer it.Stop()
		for {
			if _, err := it.Next(); err != nil {
				return err
			}
			signal()
		}
	})
	return feed, nil
}

// GetTestAdapter returns an adapter object. It's required for running tests.
func GetTestAdapter() db.Adapter {
	return &adapter{}
}

// GetTestDB returns the underlying client. Used by tests only.
func (a *adapter) GetTestDB() *gcf.Client {
	return a.client
}

func init() {
	store.RegisterAdapter(&adapter{})
}

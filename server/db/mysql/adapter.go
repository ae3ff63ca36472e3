// Package mysql is a database adapter for MySQL. MySQL has no change
// notifications: live feeds poll a version of the watched data.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	ms "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	db "github.com/tinode/pairchat/server/db"
	"github.com/tinode/pairchat/server/db/common"
	"github.com/tinode/pairchat/server/logs"
	"github.com/tinode/pairchat/server/store"
	t "github.com/tinode/pairchat/server/store/types"
)

// adapter holds MySQL connection data.
type adapter struct {
	db     *sqlx.DB
	dsn    *ms.Config
	dbName string

	// Single query timeout.
	sqlTimeout time.Duration
	// How often feeds check for changes.
	pollInterval time.Duration
}

const (
	defaultDSN      = "root:@tcp(localhost:3306)/pairchat?parseTime=true"
	defaultDatabase = "pairchat"

	defaultPollInterval = 500 * time.Millisecond

	adapterName = "mysql"
)

type configType struct {
	DSN      string `json:"dsn,omitempty"`
	Database string `json:"database,omitempty"`

	// Connection pool settings.
	//
	// Maximum number of open connections to the database.
	MaxOpenConns int `json:"max_open_conns,omitempty"`
	// Maximum number of connections in the idle connection pool.
	MaxIdleConns int `json:"max_idle_conns,omitempty"`
	// Maximum amount of time a connection may be reused (in seconds).
	ConnMaxLifetime int `json:"conn_max_lifetime,omitempty"`

	// DB request timeout (in seconds).
	SqlTimeout int `json:"sql_timeout,omitempty"`
	// Feed polling interval (in milliseconds).
	PollInterval int `json:"poll_interval_ms,omitempty"`
}

type channelRow struct {
	Id           string       `db:"id"`
	Participant1 string       `db:"participant1"`
	Participant2 string       `db:"participant2"`
	SeqId        int          `db:"seqid"`
	CreatedAt    time.Time    `db:"createdat"`
	TouchedAt    sql.NullTime `db:"touchedat"`
}

func (r *channelRow) channel() *t.Channel {
	ch := &t.Channel{
		Key:          t.ChannelKey(r.Id),
		Participants: []t.UserToken{t.UserToken(r.Participant1), t.UserToken(r.Participant2)},
		SeqId:        r.SeqId,
		CreatedAt:    r.CreatedAt,
	}
	if r.TouchedAt.Valid {
		ch.TouchedAt = r.TouchedAt.Time
	}
	return ch
}

func (a *adapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.sqlTimeout > 0 {
		return context.WithTimeout(ctx, a.sqlTimeout)
	}
	return ctx, func() {}
}

// Open initializes database session
func (a *adapter) Open(jsonconfig json.RawMessage) error {
	if a.db != nil {
		return errors.New("mysql adapter is already connected")
	}

	var err error
	var config configType

	if len(jsonconfig) > 0 {
		if err = json.Unmarshal(jsonconfig, &config); err != nil {
			return errors.New("mysql adapter failed to parse config: " + err.Error())
		}
	}

	dsn := config.DSN
	if dsn == "" {
		dsn = defaultDSN
	}
	if a.dsn, err = ms.ParseDSN(dsn); err != nil {
		return errors.New("mysql adapter failed to parse dsn: " + err.Error())
	}
	a.dsn.ParseTime = true

	a.dbName = config.Database
	if a.dbName == "" {
		a.dbName = a.dsn.DBName
	}
	if a.dbName == "" {
		a.dbName = defaultDatabase
	}
	a.dsn.DBName = a.dbName

	if config.SqlTimeout > 0 {
		a.sqlTimeout = time.Duration(config.SqlTimeout) * time.Second
	}
	a.pollInterval = defaultPollInterval
	if config.PollInterval > 0 {
		a.pollInterval = time.Duration(config.PollInterval) * time.Millisecond
	}

	a.db, err = sqlx.Open("mysql", a.dsn.FormatDSN())
	if err != nil {
		return err
	}

	// sql.Open does not open the network connection.
	// Force network connection here.
	err = a.db.Ping()
	if isMissingDb(err) {
		// Missing DB is OK if we are initializing the database.
		err = nil
	}
	if err != nil {
		a.db.Close()
		a.db = nil
		return err
	}

	if config.MaxOpenConns > 0 {
		a.db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		a.db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		a.db.SetConnMaxLifetime(time.Duration(config.ConnMaxLifetime) * time.Second)
	}

	return nil
}

// Close closes the underlying database connection
func (a *adapter) Close() error {
	var err error
	if a.db != nil {
		err = a.db.Close()
		a.db = nil
	}
	return err
}

// IsOpen returns true if connection to database has been established. It does not check if
// connection is actually live.
func (a *adapter) IsOpen() bool {
	return a.db != nil
}

// GetName returns string that adapter uses to register itself with store.
func (a *adapter) GetName() string {
	return adapterName
}

// CreateDb initializes the storage.
func (a *adapter) CreateDb(reset bool) error {
	// Connect without a database name: the database may not exist yet.
	cfg := a.dsn.Clone()
	cfg.DBName = ""
	admin, err := sqlx.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return err
	}
	defer admin.Close()

	if reset {
		if _, err = admin.Exec("DROP DATABASE IF EXISTS " + a.dbName); err != nil {
			return err
		}
	}
	if _, err = admin.Exec("CREATE DATABASE " + a.dbName +
		" CHARACTER SET utf8mb4 COLLATE utf8mb4_bin"); err != nil {
		return err
	}

	// Connections opened before the database existed are not usable.
	a.db.Close()
	if a.db, err = sqlx.Open("mysql", a.dsn.FormatDSN()); err != nil {
		return err
	}

	// Keys are base64 and compared byte by byte.
	statements := []string{
		`CREATE TABLE users(
			id        VARCHAR(512) NOT NULL,
			name      VARCHAR(255) NOT NULL DEFAULT '',
			imageurl  VARCHAR(2048) NOT NULL DEFAULT '',
			createdat DATETIME(3) NOT NULL,
			updatedat DATETIME(3) NOT NULL,
			PRIMARY KEY(id)
		)`,
		`CREATE TABLE channels(
			id           VARCHAR(1500) CHARACTER SET ascii COLLATE ascii_bin NOT NULL,
			participant1 VARCHAR(512) NOT NULL,
			participant2 VARCHAR(512) NOT NULL,
			seqid        INT NOT NULL DEFAULT 0,
			createdat    DATETIME(3) NOT NULL,
			touchedat    DATETIME(3),
			PRIMARY KEY(id),
			INDEX channels_participant1(participant1),
			INDEX channels_participant2(participant2)
		)`,
		`CREATE TABLE memberships(
			id        VARCHAR(1500) CHARACTER SET ascii COLLATE ascii_bin NOT NULL,
			owner     VARCHAR(512) NOT NULL,
			peer      VARCHAR(512) NOT NULL,
			channel   VARCHAR(1500) CHARACTER SET ascii COLLATE ascii_bin NOT NULL,
			createdat DATETIME(3) NOT NULL,
			PRIMARY KEY(id),
			INDEX memberships_owner(owner)
		)`,
		`CREATE TABLE messages(
			id        VARCHAR(32) CHARACTER SET ascii COLLATE ascii_bin NOT NULL,
			channel   VARCHAR(1500) CHARACTER SET ascii COLLATE ascii_bin NOT NULL,
			seqid     INT NOT NULL,
			createdat DATETIME(3) NOT NULL,
			content   JSON NOT NULL,
			PRIMARY KEY(id),
			UNIQUE INDEX messages_channel_seqid(channel, seqid)
		)`,
	}
	for _, stmt := range statements {
		if _, err = a.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// UserCreate creates user record
func (a *adapter) UserCreate(ctx context.Context, user *t.User) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	_, err := a.db.ExecContext(ctx,
		"INSERT INTO users(id,name,imageurl,createdat,updatedat) VALUES(?,?,?,?,?)",
		string(user.Token), user.Name, user.ImageURL, user.CreatedAt, user.UpdatedAt)
	if isDupe(err) {
		return t.ErrDuplicate
	}
	return err
}

// UserGet fetches a single user by token. If user is not found it returns (nil, nil)
func (a *adapter) UserGet(ctx context.Context, token t.UserToken) (*t.User, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	var row struct {
		Id        string    `db:"id"`
		Name      string    `db:"name"`
		ImageURL  string    `db:"imageurl"`
		CreatedAt time.Time `db:"createdat"`
		UpdatedAt time.Time `db:"updatedat"`
	}
	err := a.db.GetContext(ctx, &row,
		"SELECT id,name,imageurl,createdat,updatedat FROM users WHERE id=?", string(token))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t.User{
		Token:     t.UserToken(row.Id),
		Name:      row.Name,
		ImageURL:  row.ImageURL,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

// ChannelCreate creates a channel record.
func (a *adapter) ChannelCreate(ctx context.Context, ch *t.Channel) error {
	if len(ch.Participants) != 2 {
		return t.ErrMalformed
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	var touched sql.NullTime
	if !ch.TouchedAt.IsZero() {
		touched = sql.NullTime{Time: ch.TouchedAt, Valid: true}
	}
	_, err := a.db.ExecContext(ctx,
		"INSERT INTO channels(id,participant1,participant2,seqid,createdat,touchedat) VALUES(?,?,?,?,?,?)",
		string(ch.Key), string(ch.Participants[0]), string(ch.Participants[1]), ch.SeqId, ch.CreatedAt, touched)
	if isDupe(err) {
		return t.ErrDuplicate
	}
	return err
}

// ChannelGet loads a single channel.
func (a *adapter) ChannelGet(ctx context.Context, key t.ChannelKey) (*t.Channel, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	var row channelRow
	err := a.db.GetContext(ctx, &row,
		"SELECT id,participant1,participant2,seqid,createdat,touchedat FROM channels WHERE id=?", string(key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.channel(), nil
}

// ChannelsForUser returns keys of the user's channels.
func (a *adapter) ChannelsForUser(ctx context.Context, user t.UserToken) ([]t.ChannelKey, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	var ids []string
	if err := a.db.SelectContext(ctx, &ids,
		"SELECT id FROM channels WHERE participant1=? UNION SELECT id FROM channels WHERE participant2=?",
		string(user), string(user)); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]t.ChannelKey, len(ids))
	for i, id := range ids {
		keys[i] = t.ChannelKey(id)
	}
	return common.SortKeys(keys), nil
}

// ChannelGetAll pages through channels ordered by key.
func (a *adapter) ChannelGetAll(ctx context.Context, after t.ChannelKey, limit int) ([]t.Channel, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	query := "SELECT id,participant1,participant2,seqid,createdat,touchedat FROM channels WHERE id>? ORDER BY id"
	args := []interface{}{string(after)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	var rows []channelRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	var channels []t.Channel
	for i := range rows {
		channels = append(channels, *rows[i].channel())
	}
	return channels, nil
}

// MembershipUpsert creates or replaces the index entry.
func (a *adapter) MembershipUpsert(ctx context.Context, m *t.Membership) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	_, err := a.db.ExecContext(ctx,
		"REPLACE INTO memberships(id,owner,peer,channel,createdat) VALUES(?,?,?,?,?)",
		m.Id, string(m.Owner), string(m.Peer), string(m.Channel), m.CreatedAt)
	return err
}

// MembershipGet reads an index entry.
func (a *adapter) MembershipGet(ctx context.Context, owner, peer t.UserToken) (*t.Membership, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	var row struct {
		Id        string    `db:"id"`
		Owner     string    `db:"owner"`
		Peer      string    `db:"peer"`
		Channel   string    `db:"channel"`
		CreatedAt time.Time `db:"createdat"`
	}
	err := a.db.GetContext(ctx, &row,
		"SELECT id,owner,peer,channel,createdat FROM memberships WHERE id=?", t.MembershipID(owner, peer))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t.Membership{
		Id:        row.Id,
		Owner:     t.UserToken(row.Owner),
		Peer:      t.UserToken(row.Peer),
		Channel:   t.ChannelKey(row.Channel),
		CreatedAt: row.CreatedAt,
	}, nil
}

// MessageAppend increments channel's SeqId and saves the message with the new value.
func (a *adapter) MessageAppend(ctx context.Context, msg *t.Message) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var res sql.Result
	if res, err = tx.ExecContext(ctx,
		"UPDATE channels SET seqid=seqid+1,touchedat=? WHERE id=?",
		msg.CreatedAt, string(msg.Channel)); err != nil {
		return err
	}
	var affected int64
	if affected, err = res.RowsAffected(); err != nil {
		return err
	}
	if affected == 0 {
		err = t.ErrChannelNotFound
		return err
	}

	// The row stays locked by the update until commit.
	if err = tx.GetContext(ctx, &msg.SeqId, "SELECT seqid FROM channels WHERE id=?", string(msg.Channel)); err != nil {
		return err
	}

	var content []byte
	if content, err = json.Marshal(msg); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx,
		"INSERT INTO messages(id,channel,seqid,createdat,content) VALUES(?,?,?,?,?)",
		msg.Id, string(msg.Channel), msg.SeqId, msg.CreatedAt, content); err != nil {
		return err
	}

	err = tx.Commit()
	return err
}

// MessageGetAll returns all messages of the channel. Records which fail to decode are skipped.
func (a *adapter) MessageGetAll(ctx context.Context, key t.ChannelKey) ([]t.Message, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	rows, err := a.db.QueryxContext(ctx,
		"SELECT id,content FROM messages WHERE channel=? ORDER BY seqid", string(key))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []t.Message{}
	for rows.Next() {
		var id string
		var content []byte
		if err = rows.Scan(&id, &content); err != nil {
			return nil, err
		}
		var msg t.Message
		if err := json.Unmarshal(content, &msg); err != nil {
			logs.Warning.Printf("mysql: skipping malformed message '%s' in '%s': %v", id, key, err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// WatchChannels polls the number of the user's channels and the sum of their sequence ids.
func (a *adapter) WatchChannels(ctx context.Context, user t.UserToken) (db.Feed, error) {
	if a.db == nil {
		return nil, errors.New("adapter mysql is not connected")
	}
	feed := common.NewFeed(nil)
	common.Poll(ctx, feed, a.pollInterval, func(ctx context.Context) (string, error) {
		ctx, cancel := a.withTimeout(ctx)
		defer cancel()

		var v struct {
			Count int   `db:"cnt"`
			Seq   int64 `db:"seq"`
		}
		err := a.db.GetContext(ctx, &v,
			"SELECT COUNT(*) AS cnt, COALESCE(SUM(seqid),0) AS seq FROM channels WHERE participant1=? OR participant2=?",
			string(user), string(user))
		return strconv.Itoa(v.Count) + ":" + strconv.FormatInt(v.Seq, 10), err
	})
	return feed, nil
}

// WatchMessages polls the sequence id of the channel.
func (a *adapter) WatchMessages(ctx context.Context, key t.ChannelKey) (db.Feed, error) {
	if a.db == nil {
		return nil, errors.New("adapter mysql is not connected")
	}
	feed := common.NewFeed(nil)
	common.Poll(ctx, feed, a.pollInterval, func(ctx context.Context) (string, error) {
		ctx, cancel := a.withTimeout(ctx)
		defer cancel()

		var seq int
		err := a.db.GetContext(ctx, &seq, "SELECT seqid FROM channels WHERE id=?", string(key))
		if err == sql.ErrNoRows {
			// Not created yet.
			return "0", nil
		}
		return strconv.Itoa(seq), err
	})
	return feed, nil
}

func isDupe(err error) bool {
	var myerr *ms.MySQLError
	return errors.As(err, &myerr) && myerr.Number == 1062
}

func isMissingDb(err error) bool {
	var myerr *ms.MySQLError
	return errors.As(err, &myerr) && myerr.Number == 1049
}

// GetTestAdapter returns an adapter object. It's required for running tests.
func GetTestAdapter() db.Adapter {
	return &adapter{}
}

// GetTestDB returns the underlying connection. Used by tests only.
func (a *adapter) GetTestDB() *sqlx.DB {
	return a.db
}

func init() {
	store.RegisterAdapter(&adapter{})
}

// Package store provides methods for registering and accessing database adapters
// and implements the chat data layer on top of them.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	adapter "github.com/tinode/pairchat/server/db"
	"github.com/tinode/pairchat/server/logs"
	"github.com/tinode/pairchat/server/metrics"
	"github.com/tinode/pairchat/server/store/types"
)

var availableAdapters = make(map[string]adapter.Adapter)

const (
	defaultMembershipRetries = 5
	defaultRetryBackoff      = 50 * time.Millisecond
	defaultReconcileWorkers  = 4
	defaultReconcileInterval = time.Hour
)

// Default XTEA key, used only when the config does not provide one.
var defaultUidKey = []byte("la6YsO+bNX/+XIkO")

type configType struct {
	// 16-byte key for XTEA. Used to initialize types.UidGenerator.
	UidKey []byte `json:"uid_key"`
	// DB adapter name to use. Should be one of those specified in `Adapters`.
	UseAdapter string `json:"use_adapter"`
	// Number of attempts to confirm a membership entry before giving up.
	MembershipRetries int `json:"membership_retries"`
	// Initial delay between attempts, milliseconds.
	RetryBackoff int `json:"retry_backoff_ms"`
	// Period of the membership reconciliation scan, seconds. 0 means one hour,
	// a negative value disables the scan.
	ReconcileInterval int `json:"reconcile_interval_sec"`
	// Number of goroutines healing memberships.
	ReconcileWorkers int `json:"reconcile_workers"`
	// Configurations for individual adapters.
	Adapters map[string]json.RawMessage `json:"adapters"`
}

// Options configure a Store created with New.
type Options struct {
	// Snowflake worker ID, 0..1023.
	WorkerID int
	// 16-byte XTEA key for message ids.
	UidKey []byte
	// Attempts to confirm a membership entry.
	MembershipRetries int
	// Initial delay between attempts.
	RetryBackoff time.Duration
	// Period of the reconciliation scan. Zero means one hour. Negative disables
	// the periodic scan; queued repairs still run.
	ReconcileInterval time.Duration
	// Number of reconciliation workers.
	ReconcileWorkers int
	// Optional metrics.
	Metrics *metrics.Metrics
}

// Store is the main object for interacting with persistent storage.
type Store struct {
	adp     adapter.Adapter
	uGen    types.UidGenerator
	metrics *metrics.Metrics

	retries int
	backoff time.Duration

	reconciler *Reconciler

	// Users is the User Directory.
	Users UsersObjMapperInterface
	// Channels is the Channel Registry.
	Channels ChannelsObjMapperInterface
	// Messages is the Message Store.
	Messages MessagesObjMapperInterface
}

// RegisterAdapter makes a persistence adapter available.
// If Register is called twice or if the adapter is nil, it panics.
func RegisterAdapter(a adapter.Adapter) {
	if a == nil {
		panic("store: Register adapter is nil")
	}

	adapterName := a.GetName()
	if _, ok := availableAdapters[adapterName]; ok {
		panic("store: adapter '" + adapterName + "' is already registered")
	}
	availableAdapters[adapterName] = a
}

// AvailableAdapters lists names of registered adapters.
func AvailableAdapters() []string {
	names := make([]string, 0, len(availableAdapters))
	for name := range availableAdapters {
		names = append(names, name)
	}
	return names
}

func selectAdapter(config *configType) (adapter.Adapter, error) {
	if len(config.UseAdapter) > 0 {
		// Adapter name specified explicitly.
		if ad, ok := availableAdapters[config.UseAdapter]; ok {
			return ad, nil
		}
		return nil, errors.New("store: " + config.UseAdapter + " adapter is not available in this binary")
	}
	if len(availableAdapters) == 1 {
		// Default to the only entry in availableAdapters.
		for _, v := range availableAdapters {
			return v, nil
		}
	}
	return nil, errors.New("store: db adapter is not specified. Please set `store_config.use_adapter` in the config")
}

// Open initializes the persistence system. The adapter is chosen and configured
// from jsonconf, then opened.
func Open(workerId int, jsonconf json.RawMessage, m *metrics.Metrics) (*Store, error) {
	var config configType
	if err := json.Unmarshal(jsonconf, &config); err != nil {
		return nil, errors.New("store: failed to parse config: " + err.Error() + "(" + string(jsonconf) + ")")
	}

	adp, err := selectAdapter(&config)
	if err != nil {
		return nil, err
	}
	if adp.IsOpen() {
		return nil, errors.New("store: connection is already opened")
	}

	var adapterConfig json.RawMessage
	if config.Adapters != nil {
		adapterConfig = config.Adapters[adp.GetName()]
	}
	if err := adp.Open(adapterConfig); err != nil {
		return nil, err
	}

	st, err := New(adp, Options{
		WorkerID:          workerId,
		UidKey:            config.UidKey,
		MembershipRetries: config.MembershipRetries,
		RetryBackoff:      time.Duration(config.RetryBackoff) * time.Millisecond,
		ReconcileInterval: time.Duration(config.ReconcileInterval) * time.Second,
		ReconcileWorkers:  config.ReconcileWorkers,
		Metrics:           m,
	})
	if err != nil {
		adp.Close()
		return nil, err
	}
	return st, nil
}

// New creates a Store on top of an open adapter and starts membership reconciliation.
func New(adp adapter.Adapter, opts Options) (*Store, error) {
	if adp == nil || !adp.IsOpen() {
		return nil, errors.New("store: adapter is not open")
	}

	// Initialize snowflake.
	if opts.WorkerID < 0 || opts.WorkerID > 1023 {
		return nil, errors.New("store: invalid worker ID")
	}
	key := opts.UidKey
	if len(key) == 0 {
		logs.Warning.Println("store: uid_key is not set, using the default key")
		key = defaultUidKey
	}

	st := &Store{
		adp:     adp,
		metrics: opts.Metrics,
		retries: opts.MembershipRetries,
		backoff: opts.RetryBackoff,
	}
	if err := st.uGen.Init(uint(opts.WorkerID), key); err != nil {
		return nil, errors.New("store: failed to init snowflake: " + err.Error())
	}
	if st.retries <= 0 {
		st.retries = defaultMembershipRetries
	}
	if st.backoff <= 0 {
		st.backoff = defaultRetryBackoff
	}
	workers := opts.ReconcileWorkers
	if workers <= 0 {
		workers = defaultReconcileWorkers
	}

	st.Users = UsersObjMapper{st}
	st.Channels = ChannelsObjMapper{st}
	st.Messages = MessagesObjMapper{st}
	interval := opts.ReconcileInterval
	if interval == 0 {
		interval = defaultReconcileInterval
	} else if interval < 0 {
		interval = 0
	}
	st.reconciler = newReconciler(st, workers, interval)
	st.reconciler.start()

	return st, nil
}

// Close stops reconciliation and terminates connection to persistent storage.
func (s *Store) Close() error {
	s.reconciler.stop()
	if s.adp.IsOpen() {
		return s.adp.Close()
	}
	return nil
}

// Adapter returns the underlying adapter.
func (s *Store) Adapter() adapter.Adapter {
	return s.adp
}

// Metrics returns store metrics, possibly nil.
func (s *Store) Metrics() *metrics.Metrics {
	return s.metrics
}

// GetAdapterName returns the name of the current adapter.
func (s *Store) GetAdapterName() string {
	return s.adp.GetName()
}

// InitDb creates the database structures. If reset is true it will first
// attempt to drop an existing database.
func (s *Store) InitDb(reset bool) error {
	return s.adp.CreateDb(reset)
}

// Reconciler returns the membership reconciler.
func (s *Store) Reconciler() *Reconciler {
	return s.reconciler
}

// GetUidString generates a unique ID as string.
func (s *Store) GetUidString() string {
	return s.uGen.GetStr()
}

// unavailable maps an adapter failure to the store's error taxonomy: known
// StoreErrors pass through, anything else is a transient ErrStoreUnavailable.
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	var se types.StoreError
	if errors.As(err, &se) {
		return err
	}
	return fmt.Errorf("%w: %w", types.ErrStoreUnavailable, err)
}

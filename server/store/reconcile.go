package store

import (
	"context"
	"sync"
	"time"

	"github.com/tinode/pairchat/server/concurrency"
	"github.com/tinode/pairchat/server/logs"
	"github.com/tinode/pairchat/server/store/types"
)

const (
	reconcilePageSize  = 100
	reconcileQueueSize = 256
)

// Reconciler restores membership entries of channels whose creation did not
// finish. Repairs are queued by failed creates and found by a periodic scan
// of all channels.
type Reconciler struct {
	st       *Store
	pool     *concurrency.GoRoutinePool
	interval time.Duration

	queue   chan types.ChannelKey
	pending sync.Map

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup
	done   chan struct{}
	once   sync.Once
}

func newReconciler(st *Store, workers int, interval time.Duration) *Reconciler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		st:       st,
		pool:     concurrency.NewGoRoutinePool(workers),
		interval: interval,
		queue:    make(chan types.ChannelKey, reconcileQueueSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Schedule queues a repair of the channel's membership entries. Does not block.
// Returns false if the repair was not queued: already pending, queue is full or
// the reconciler is stopped.
func (r *Reconciler) Schedule(key types.ChannelKey) bool {
	if r.ctx.Err() != nil {
		return false
	}
	if _, loaded := r.pending.LoadOrStore(key, struct{}{}); loaded {
		return false
	}
	select {
	case r.queue <- key:
		return true
	default:
		r.pending.Delete(key)
		logs.Warning.Printf("store: reconcile queue full, '%s' left to the periodic scan", key)
		return false
	}
}

// Scan walks all channels and repairs missing membership entries. Returns the
// number of entries written.
func (r *Reconciler) Scan(ctx context.Context) (int, error) {
	var after types.ChannelKey
	healed := 0
	for {
		page, err := r.st.adp.ChannelGetAll(ctx, after, reconcilePageSize)
		if err != nil {
			return healed, unavailable(err)
		}
		for i := range page {
			n, err := r.heal(ctx, &page[i])
			healed += n
			if err != nil {
				logs.Warning.Printf("store: failed to reconcile '%s': %v", page[i].Key, err)
			}
		}
		if len(page) < reconcilePageSize {
			break
		}
		after = page[len(page)-1].Key
	}
	if healed > 0 {
		logs.Info.Printf("store: reconciliation restored %d membership entries", healed)
	}
	return healed, nil
}

// Repair heals a single channel now.
func (r *Reconciler) Repair(ctx context.Context, key types.ChannelKey) (int, error) {
	ch, err := r.st.adp.ChannelGet(ctx, key)
	if err != nil {
		return 0, unavailable(err)
	}
	if ch == nil {
		return 0, types.ErrChannelNotFound
	}
	return r.heal(ctx, ch)
}

func (r *Reconciler) heal(ctx context.Context, ch *types.Channel) (int, error) {
	if len(ch.Participants) != 2 {
		return 0, types.ErrMalformed
	}
	a, b := ch.Participants[0], ch.Participants[1]
	healed := 0
	var firstErr error
	for _, pair := range [][2]types.UserToken{{a, b}, {b, a}} {
		written, err := r.st.ensureMembership(ctx, pair[0], pair[1], ch.Key)
		if written && err == nil {
			healed++
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.st.metrics.Healed(healed)
	return healed, firstErr
}

func (r *Reconciler) start() {
	go r.run()
}

func (r *Reconciler) run() {
	defer close(r.done)

	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case key := <-r.queue:
			r.tasks.Add(1)
			if !r.pool.Schedule(func() {
				defer r.tasks.Done()
				defer r.pending.Delete(key)
				if _, err := r.Repair(r.ctx, key); err != nil {
					logs.Warning.Printf("store: failed to repair '%s': %v", key, err)
				}
			}) {
				r.tasks.Done()
				return
			}
		case <-tick:
			if _, err := r.Scan(r.ctx); err != nil {
				logs.Warning.Println("store: reconciliation scan failed:", err)
			}
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Reconciler) stop() {
	r.once.Do(func() {
		r.cancel()
		<-r.done
		r.tasks.Wait()
		r.pool.Stop()
	})
}

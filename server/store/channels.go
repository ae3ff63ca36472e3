package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"github.com/tinode/pairchat/server/logs"
	"github.com/tinode/pairchat/server/store/types"
)

// ChannelsObjMapperInterface is the Channel Registry.
type ChannelsObjMapperInterface interface {
	// GetOrCreate returns the key of the channel between self and peer, creating
	// the channel and both membership entries if needed.
	GetOrCreate(ctx context.Context, self, peer types.UserToken) (types.ChannelKey, error)
	// Get loads the channel record. Returns types.ErrChannelNotFound if the channel does not exist.
	Get(ctx context.Context, key types.ChannelKey) (*types.Channel, error)
	// List returns keys of all channels the user participates in, sorted.
	List(ctx context.Context, user types.UserToken) ([]types.ChannelKey, error)
}

// ChannelsObjMapper is a struct to hold methods for persistence mapping for the Channel object.
type ChannelsObjMapper struct {
	st *Store
}

var errNotConfirmed = errors.New("membership not confirmed")

// GetOrCreate resolves the channel between self and peer. Concurrent callers,
// including the two participants racing each other, converge on the same key.
func (m ChannelsObjMapper) GetOrCreate(ctx context.Context, self, peer types.UserToken) (types.ChannelKey, error) {
	if err := self.Validate(); err != nil {
		return "", err
	}
	if err := peer.Validate(); err != nil {
		return "", err
	}
	if self == peer {
		return "", types.ErrMalformed
	}

	adp := m.st.adp
	key := types.ChannelKeyOf(self, peer)

	// Fast path: the caller's own index already points to the channel.
	mbr, err := adp.MembershipGet(ctx, self, peer)
	if err != nil {
		return "", unavailable(err)
	}
	if mbr != nil {
		if mbr.Channel == key {
			// The peer's entry may be missing if an earlier creation was cut short.
			// Healing is left to the reconciler so the caller never writes here.
			if other, err := adp.MembershipGet(ctx, peer, self); err != nil || other == nil || other.Channel != key {
				m.st.reconciler.Schedule(key)
			}
			return key, nil
		}
		logs.Warning.Printf("store: membership %s->%s points to '%s', expected '%s'", self, peer, mbr.Channel, key)
	}

	if _, err := m.st.Users.Get(ctx, peer); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return "", types.ErrPeerNotFound
		}
		return "", err
	}

	ch := types.NewChannel(self, peer)
	err = adp.ChannelCreate(ctx, ch)
	switch {
	case err == nil:
		m.st.metrics.ChannelCreated()
	case errors.Is(err, types.ErrDuplicate):
		existing, err := adp.ChannelGet(ctx, key)
		if err != nil {
			return "", unavailable(err)
		}
		if existing == nil {
			return "", types.ErrStoreUnavailable
		}
		if !existing.SameAs(ch) {
			m.st.metrics.Inconsistent()
			logs.Error.Printf("store: channel '%s' exists with participants %v, expected %v",
				key, existing.Participants, ch.Participants)
			return "", types.ErrRegistryInconsistent
		}
		// Lost the race to a concurrent create of the same channel.
		m.st.metrics.WriteConflict("channel")
		logs.Info.Printf("store: channel '%s' created concurrently", key)
	default:
		return "", unavailable(err)
	}

	if err := m.st.confirmMemberships(ctx, ch); err != nil {
		m.st.metrics.Inconsistent()
		logs.Error.Printf("store: channel '%s' created, membership index incomplete: %v", key, err)
		m.st.reconciler.Schedule(key)
		return "", err
	}

	return key, nil
}

// Get returns the channel record.
func (m ChannelsObjMapper) Get(ctx context.Context, key types.ChannelKey) (*types.Channel, error) {
	if !key.IsValid() {
		return nil, types.ErrMalformed
	}
	ch, err := m.st.adp.ChannelGet(ctx, key)
	if err != nil {
		return nil, unavailable(err)
	}
	if ch == nil {
		return nil, types.ErrChannelNotFound
	}
	return ch, nil
}

// List returns channels of the user.
func (m ChannelsObjMapper) List(ctx context.Context, user types.UserToken) ([]types.ChannelKey, error) {
	if err := user.Validate(); err != nil {
		return nil, err
	}
	keys, err := m.st.adp.ChannelsForUser(ctx, user)
	if err != nil {
		return nil, unavailable(err)
	}
	if keys == nil {
		keys = []types.ChannelKey{}
	}
	return keys, nil
}

// confirmMemberships makes sure both participants' index entries point to the channel.
func (s *Store) confirmMemberships(ctx context.Context, ch *types.Channel) error {
	a, b := ch.Participants[0], ch.Participants[1]
	if _, err := s.ensureMembership(ctx, a, b, ch.Key); err != nil {
		return err
	}
	_, err := s.ensureMembership(ctx, b, a, ch.Key)
	return err
}

// ensureMembership writes owner's entry for peer unless it is already correct,
// then reads it back. Retried with exponential backoff. Returns true if the
// entry had to be written.
func (s *Store) ensureMembership(ctx context.Context, owner, peer types.UserToken, key types.ChannelKey) (bool, error) {
	written := false
	op := func() error {
		cur, err := s.adp.MembershipGet(ctx, owner, peer)
		if err != nil {
			return err
		}
		if cur != nil && cur.Channel == key {
			return nil
		}
		if err := s.adp.MembershipUpsert(ctx, types.NewMembership(owner, peer, key)); err != nil {
			return err
		}
		written = true
		cur, err = s.adp.MembershipGet(ctx, owner, peer)
		if err != nil {
			return err
		}
		if cur == nil || cur.Channel != key {
			return errNotConfirmed
		}
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(s.retries-1)), ctx))
	if err != nil {
		return written, fmt.Errorf("%w: %s->%s: %w", types.ErrRegistryInconsistent, owner, peer, err)
	}
	return written, nil
}

func (s *Store) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.backoff
	b.MaxInterval = 20 * s.backoff
	b.MaxElapsedTime = 0
	return b
}

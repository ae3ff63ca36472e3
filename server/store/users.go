package store

import (
	"context"
	"errors"

	"github.com/tinode/pairchat/server/logs"
	"github.com/tinode/pairchat/server/store/types"
)

// UsersObjMapperInterface is the User Directory.
type UsersObjMapperInterface interface {
	// CreateIfAbsent persists the user unless a user with the same token exists.
	// Returns the stored record, which is the existing one if there was one.
	CreateIfAbsent(ctx context.Context, user *types.User) (*types.User, error)
	// Get returns the user with the given token or types.ErrNotFound.
	Get(ctx context.Context, token types.UserToken) (*types.User, error)
}

// UsersObjMapper is a users struct to hold methods for persistence mapping for the User object.
type UsersObjMapper struct {
	st *Store
}

// CreateIfAbsent inserts User object into a database if it's not there yet.
// An existing profile is never overwritten.
func (m UsersObjMapper) CreateIfAbsent(ctx context.Context, user *types.User) (*types.User, error) {
	if user == nil {
		return nil, types.ErrMalformed
	}
	if err := user.Token.Validate(); err != nil {
		return nil, err
	}

	existing, err := m.st.adp.UserGet(ctx, user.Token)
	if err != nil {
		return nil, unavailable(err)
	}
	if existing != nil {
		return existing, nil
	}

	usr := *user
	usr.InitTimes()
	err = m.st.adp.UserCreate(ctx, &usr)
	if err == nil {
		return &usr, nil
	}
	if !errors.Is(err, types.ErrDuplicate) {
		return nil, unavailable(err)
	}

	// Someone else created the user between the read and the write.
	m.st.metrics.WriteConflict("user")
	logs.Info.Printf("store: user '%s' created concurrently, using existing record", user.Token)
	existing, err = m.st.adp.UserGet(ctx, user.Token)
	if err != nil {
		return nil, unavailable(err)
	}
	if existing == nil {
		return nil, types.ErrStoreUnavailable
	}
	return existing, nil
}

// Get returns a user object for the given token.
func (m UsersObjMapper) Get(ctx context.Context, token types.UserToken) (*types.User, error) {
	if err := token.Validate(); err != nil {
		return nil, err
	}
	usr, err := m.st.adp.UserGet(ctx, token)
	if err != nil {
		return nil, unavailable(err)
	}
	if usr == nil {
		return nil, types.ErrNotFound
	}
	return usr, nil
}

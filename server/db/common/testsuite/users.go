package testsuite

import (
	"context"
	"errors"
	"testing"

	adapter "github.com/tinode/pairchat/server/db"
	"github.com/tinode/pairchat/server/store/types"
)

func RunUserCreate(t *testing.T, adp adapter.Adapter, td *TestData) {
	t.Helper()
	ctx := context.Background()

	for _, usr := range td.Users {
		if err := adp.UserCreate(ctx, usr); err != nil {
			t.Fatalf("UserCreate(%s): %v", usr.Token, err)
		}
	}

	dup := *td.Users[0]
	dup.Name = "impostor"
	if err := adp.UserCreate(ctx, &dup); !errors.Is(err, types.ErrDuplicate) {
		t.Errorf("duplicate UserCreate: got %v want %v", err, types.ErrDuplicate)
	}
}

func RunUserGet(t *testing.T, adp adapter.Adapter, td *TestData) {
	t.Helper()
	ctx := context.Background()

	// Test not found
	got, err := adp.UserGet(ctx, "tok-nobody")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("user should be nil, got %+v", got)
	}

	got, err = adp.UserGet(ctx, td.Users[0].Token)
	if err != nil {
		t.Fatal(err)
	}
	// The duplicate must not have overwritten the first record.
	if d := diff(td.Users[0], got); d != "" {
		t.Errorf("User mismatch (-want +got):\n%s", d)
	}
}

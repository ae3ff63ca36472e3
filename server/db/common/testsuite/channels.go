package testsuite

import (
	"context"
	"errors"
	"testing"

	adapter "github.com/tinode/pairchat/server/db"
	"github.com/tinode/pairchat/server/store/types"
)

func RunChannelCreate(t *testing.T, adp adapter.Adapter, td *TestData) {
	t.Helper()
	ctx := context.Background()

	for _, ch := range td.Channels {
		if err := adp.ChannelCreate(ctx, ch); err != nil {
			t.Fatalf("ChannelCreate(%s): %v", ch.Key, err)
		}
	}
	if err := adp.ChannelCreate(ctx, types.NewChannel(td.Users[1].Token, td.Users[0].Token)); !errors.Is(err, types.ErrDuplicate) {
		t.Errorf("duplicate ChannelCreate: got %v want %v", err, types.ErrDuplicate)
	}
}

func RunChannelGet(t *testing.T, adp adapter.Adapter, td *TestData) {
	t.Helper()
	ctx := context.Background()

	got, err := adp.ChannelGet(ctx, types.ChannelKeyOf(td.Users[2].Token, td.Users[3].Token))
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("channel should be nil, got %+v", got)
	}

	got, err = adp.ChannelGet(ctx, td.Channels[0].Key)
	if err != nil {
		t.Fatal(err)
	}
	if d := diff(td.Channels[0], got); d != "" {
		t.Errorf("Channel mismatch (-want +got):\n%s", d)
	}
}

func RunChannelsForUser(t *testing.T, adp adapter.Adapter, td *TestData) {
	t.Helper()
	ctx := context.Background()

	got, err := adp.ChannelsForUser(ctx, td.Users[0].Token)
	if err != nil {
		t.Fatal(err)
	}
	want := []types.ChannelKey{td.Channels[0].Key, td.Channels[1].Key}
	if want[1] < want[0] {
		want[0], want[1] = want[1], want[0]
	}
	if d := diff(want, got); d != "" {
		t.Errorf("ChannelsForUser mismatch (-want +got):\n%s", d)
	}

	got, err = adp.ChannelsForUser(ctx, td.Users[3].Token)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("dave should have no channels, got %v", got)
	}
}

func RunChannelGetAll(t *testing.T, adp adapter.Adapter, td *TestData) {
	t.Helper()
	ctx := context.Background()

	var keys []types.ChannelKey
	var after types.ChannelKey
	for {
		page, err := adp.ChannelGetAll(ctx, after, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(page) > 1 {
			t.Fatalf("page exceeds limit: %d", len(page))
		}
		if len(page) == 0 {
			break
		}
		keys = append(keys, page[0].Key)
		after = page[0].Key
	}
	if len(keys) != len(td.Channels) {
		t.Fatalf("ChannelGetAll returned %d channels, want %d", len(keys), len(td.Channels))
	}
	if keys[0] >= keys[1] {
		t.Errorf("channels are not ordered: %v", keys)
	}
}

func RunMembershipUpsert(t *testing.T, adp adapter.Adapter, td *TestData) {
	t.Helper()
	ctx := context.Background()

	for _, ch := range td.Channels {
		a, b := ch.Participants[0], ch.Participants[1]
		for _, m := range []*types.Membership{types.NewMembership(a, b, ch.Key), types.NewMembership(b, a, ch.Key)} {
			if err := adp.MembershipUpsert(ctx, m); err != nil {
				t.Fatal(err)
			}
		}
	}
	// Upsert is idempotent.
	ch := td.Channels[0]
	if err := adp.MembershipUpsert(ctx, types.NewMembership(ch.Participants[0], ch.Participants[1], ch.Key)); err != nil {
		t.Fatal(err)
	}
}

func RunMembershipGet(t *testing.T, adp adapter.Adapter, td *TestData) {
	t.Helper()
	ctx := context.Background()

	got, err := adp.MembershipGet(ctx, td.Users[3].Token, td.Users[0].Token)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("membership should be nil, got %+v", got)
	}

	alice, bob := td.Users[0].Token, td.Users[1].Token
	for _, pair := range [][2]types.UserToken{{alice, bob}, {bob, alice}} {
		got, err := adp.MembershipGet(ctx, pair[0], pair[1])
		if err != nil {
			t.Fatal(err)
		}
		if got == nil {
			t.Fatalf("membership %s->%s not found", pair[0], pair[1])
		}
		if got.Channel != td.Channels[0].Key || got.Owner != pair[0] || got.Peer != pair[1] {
			t.Errorf("membership mismatch: %+v", got)
		}
	}
}

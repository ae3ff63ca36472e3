package testsuite

import (
	"context"
	"testing"
	"time"

	adapter "github.com/tinode/pairchat/server/db"
	"github.com/tinode/pairchat/server/store/types"
)

// Remote stores deliver change notifications with a delay.
const watchTimeout = 10 * time.Second

func waitChange(t *testing.T, feed adapter.Feed, what string) {
	t.Helper()
	select {
	case <-feed.Changes():
	case err := <-feed.Errors():
		t.Fatalf("%s: feed error: %v", what, err)
	case <-time.After(watchTimeout):
		t.Fatalf("%s: no change notification", what)
	}
}

// drain discards signals delivered while the feed was starting up.
func drain(feed adapter.Feed) {
	for {
		select {
		case <-feed.Changes():
		case <-time.After(200 * time.Millisecond):
			return
		}
	}
}

func RunWatchChannels(t *testing.T, adp adapter.Adapter, td *TestData) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dave, bob := td.Users[3].Token, td.Users[1].Token
	feed, err := adp.WatchChannels(ctx, dave)
	if err != nil {
		t.Fatal(err)
	}
	defer feed.Close()
	drain(feed)

	ch := types.NewChannel(dave, bob)
	if err := adp.ChannelCreate(ctx, ch); err != nil {
		t.Fatal(err)
	}
	td.Channels = append(td.Channels, ch)
	waitChange(t, feed, "WatchChannels")
}

func RunWatchMessages(t *testing.T, adp adapter.Adapter, td *TestData) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := td.Channels[len(td.Channels)-1]
	feed, err := adp.WatchMessages(ctx, ch.Key)
	if err != nil {
		t.Fatal(err)
	}
	drain(feed)

	msg := &types.Message{
		Id:        "watched",
		Channel:   ch.Key,
		Sender:    ch.Participants[0],
		Receiver:  ch.Participants[1],
		Payload:   "are you there?",
		CreatedAt: types.TimeNow(),
	}
	if err := adp.MessageAppend(ctx, msg); err != nil {
		t.Fatal(err)
	}
	waitChange(t, feed, "WatchMessages")

	if err := feed.Close(); err != nil {
		t.Errorf("feed.Close: %v", err)
	}
}

// RunAll runs the whole suite in order against an empty database.
func RunAll(t *testing.T, adp adapter.Adapter) {
	td := NewTestData()
	steps := []struct {
		name string
		run  func(*testing.T, adapter.Adapter, *TestData)
	}{
		{"UserCreate", RunUserCreate},
		{"UserGet", RunUserGet},
		{"ChannelCreate", RunChannelCreate},
		{"ChannelGet", RunChannelGet},
		{"ChannelsForUser", RunChannelsForUser},
		{"ChannelGetAll", RunChannelGetAll},
		{"MembershipUpsert", RunMembershipUpsert},
		{"MembershipGet", RunMembershipGet},
		{"MessageAppend", RunMessageAppend},
		{"MessageAppendConcurrent", RunMessageAppendConcurrent},
		{"MessageGetAll", RunMessageGetAll},
		{"WatchChannels", RunWatchChannels},
		{"WatchMessages", RunWatchMessages},
	}
	for _, step := range steps {
		if !t.Run(step.name, func(t *testing.T) { step.run(t, adp, td) }) {
			t.Fatalf("%s failed, skipping the rest", step.name)
		}
	}
}

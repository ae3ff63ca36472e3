package testsuite

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	adapter "github.com/tinode/pairchat/server/db"
	"github.com/tinode/pairchat/server/store/types"
)

func RunMessageAppend(t *testing.T, adp adapter.Adapter, td *TestData) {
	t.Helper()
	ctx := context.Background()

	for i, msg := range td.Messages {
		if err := adp.MessageAppend(ctx, msg); err != nil {
			t.Fatal(err)
		}
		if msg.SeqId != i+1 {
			t.Errorf("SeqId mismatch: got %d want %d", msg.SeqId, i+1)
		}
	}

	orphan := &types.Message{
		Id:       "orphan",
		Channel:  types.ChannelKeyOf(td.Users[2].Token, td.Users[3].Token),
		Sender:   td.Users[2].Token,
		Receiver: td.Users[3].Token,
		Payload:  "lost",
	}
	if err := adp.MessageAppend(ctx, orphan); !errors.Is(err, types.ErrChannelNotFound) {
		t.Errorf("append to missing channel: got %v want %v", err, types.ErrChannelNotFound)
	}

	ch, err := adp.ChannelGet(ctx, td.Channels[0].Key)
	if err != nil {
		t.Fatal(err)
	}
	if ch.SeqId != len(td.Messages) {
		t.Errorf("channel SeqId: got %d want %d", ch.SeqId, len(td.Messages))
	}
}

// RunMessageAppendConcurrent appends to the second channel from many
// goroutines and checks that every message got a distinct SeqId.
func RunMessageAppendConcurrent(t *testing.T, adp adapter.Adapter, td *TestData) {
	t.Helper()
	ctx := context.Background()

	const count = 20
	ch := td.Channels[1]
	seqs := make(chan int, count)
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := &types.Message{
				Id:        "conc" + strconv.Itoa(i),
				Channel:   ch.Key,
				Sender:    ch.Participants[i%2],
				Receiver:  ch.Participants[(i+1)%2],
				Payload:   strconv.Itoa(i),
				CreatedAt: types.TimeNow(),
			}
			if err := adp.MessageAppend(ctx, msg); err != nil {
				t.Error(err)
				return
			}
			seqs <- msg.SeqId
		}(i)
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int]bool)
	for seq := range seqs {
		if seen[seq] {
			t.Errorf("SeqId %d assigned twice", seq)
		}
		seen[seq] = true
	}
	if len(seen) != count {
		t.Errorf("got %d distinct SeqIds, want %d", len(seen), count)
	}
}

func RunMessageGetAll(t *testing.T, adp adapter.Adapter, td *TestData) {
	t.Helper()
	ctx := context.Background()

	got, err := adp.MessageGetAll(ctx, td.Channels[0].Key)
	if err != nil {
		t.Fatal(err)
	}
	want := make([]types.Message, 0, len(td.Messages))
	for _, msg := range td.Messages {
		want = append(want, *msg)
	}
	if d := diff(want, got); d != "" {
		t.Errorf("Messages mismatch (-want +got):\n%s", d)
	}

	got, err = adp.MessageGetAll(ctx, types.ChannelKeyOf(td.Users[2].Token, td.Users[3].Token))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("unknown channel should have no messages, got %d", len(got))
	}
}

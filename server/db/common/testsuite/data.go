// Package testsuite contains conformance tests shared by database adapters.
// Every Run* function expects the state left by the previous one, starting
// with an empty database. Use RunAll to run them in order.
package testsuite

import (
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/tinode/pairchat/server/store/types"
)

// TestData is the fixture shared by the suite.
type TestData struct {
	Users    []*types.User
	Channels []*types.Channel
	Messages []*types.Message
}

// Databases store time with different precision.
var timeOpt = cmpopts.EquateApproxTime(time.Second)

func diff(want, got any) string {
	return cmp.Diff(want, got, timeOpt)
}

// NewTestData builds a fresh fixture.
func NewTestData() *TestData {
	now := types.TimeNow()
	td := &TestData{}
	for _, name := range []string{"alice", "bob", "carol", "dave"} {
		td.Users = append(td.Users, &types.User{
			Token:     types.UserToken("tok-" + name),
			Name:      name,
			ImageURL:  "https://example.com/" + name + ".png",
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	// alice-bob and alice-carol
	td.Channels = []*types.Channel{
		types.NewChannel(td.Users[0].Token, td.Users[1].Token),
		types.NewChannel(td.Users[2].Token, td.Users[0].Token),
	}

	ab := td.Channels[0]
	for i, payload := range []string{"hi bob", "hi alice", "how are you?"} {
		from, to := td.Users[0].Token, td.Users[1].Token
		if i%2 == 1 {
			from, to = to, from
		}
		td.Messages = append(td.Messages, &types.Message{
			Id:        "msg" + string(rune('a'+i)),
			Channel:   ab.Key,
			Sender:    from,
			Receiver:  to,
			Payload:   payload,
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
		})
	}
	return td
}

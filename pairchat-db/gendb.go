package main

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"time"

	"github.com/tinode/pairchat/server/store"
	"github.com/tinode/pairchat/server/store/types"
)

// genDb loads sample users, channels and messages. Existing users are kept as is.
func genDb(ctx context.Context, st *store.Store, data *Data) error {
	if len(data.Users) == 0 {
		log.Println("No data provided, stopping")
		return nil
	}

	log.Println("Generating users...")
	for _, uu := range data.Users {
		user := types.User{
			Token:     types.UserToken(uu.Token),
			Name:      uu.Name,
			ImageURL:  uu.Image,
			CreatedAt: getCreatedTime(uu.CreatedAt),
		}
		if _, err := st.Users.CreateIfAbsent(ctx, &user); err != nil {
			return err
		}
	}

	log.Println("Generating channels...")
	keys := make([]types.ChannelKey, 0, len(data.Channels))
	pairs := make(map[types.ChannelKey]Channel, len(data.Channels))
	for _, ch := range data.Channels {
		key, err := st.Channels.GetOrCreate(ctx, types.UserToken(ch[0]), types.UserToken(ch[1]))
		if err != nil {
			return errors.New(ch[0] + "-" + ch[1] + ": " + err.Error())
		}
		if _, seen := pairs[key]; !seen {
			keys = append(keys, key)
		}
		pairs[key] = ch
	}

	if len(data.Messages) == 0 || len(keys) == 0 {
		log.Println("All done.")
		return nil
	}

	perChannel := data.MessagesPerChannel
	if perChannel <= 0 {
		perChannel = len(data.Messages)
	}

	log.Println("Generating messages...")
	for _, key := range keys {
		ch := pairs[key]
		for i := 0; i < perChannel; i++ {
			// Random sender.
			from, to := ch[0], ch[1]
			if rand.Intn(2) == 1 {
				from, to = to, from
			}
			text := data.Messages[rand.Intn(len(data.Messages))]
			if _, err := st.Messages.Append(ctx, key, types.UserToken(from), types.UserToken(to), text); err != nil {
				return err
			}
		}
	}
	log.Println("All done.")
	return nil
}

// getCreatedTime parses an offset from now, like "-140h". Empty or invalid means now.
func getCreatedTime(delta string) time.Time {
	dd, err := time.ParseDuration(delta)
	if err != nil && delta != "" {
		log.Fatal("Invalid duration string", delta)
	}
	return time.Now().UTC().Round(time.Millisecond).Add(dd)
}

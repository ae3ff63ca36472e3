// Integration tests of the PostgreSQL adapter. Require a running server:
//
//	go test ./server/db/postgres/tests -config ./test.conf
//
// Skipped if the config file is missing.
package tests

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"testing"

	"github.com/jackc/pgx/v4/pgxpool"
	jcr "github.com/tinode/jsonco"

	adapter "github.com/tinode/pairchat/server/db"
	"github.com/tinode/pairchat/server/db/common/testsuite"
	backend "github.com/tinode/pairchat/server/db/postgres"
	"github.com/tinode/pairchat/server/logs"
	"github.com/tinode/pairchat/server/store/types"
)

type configType struct {
	// Configurations for individual adapters.
	Adapters map[string]json.RawMessage `json:"adapters"`
}

var conffile = flag.String("config", "./test.conf", "config of the database connection")

var adp adapter.Adapter

func TestMain(m *testing.M) {
	flag.Parse()
	logs.Init(os.Stderr, "stdFlags")

	file, err := os.Open(*conffile)
	if err != nil {
		log.Println("postgres tests skipped:", err)
		os.Exit(0)
	}
	var config configType
	if err = json.NewDecoder(jcr.New(file)).Decode(&config); err != nil {
		log.Fatal("Failed to parse config file:", err)
	}
	file.Close()

	adp = backend.GetTestAdapter()
	if err := adp.Open(config.Adapters[adp.GetName()]); err != nil {
		log.Fatal(err)
	}
	if err := adp.CreateDb(true); err != nil {
		log.Fatal(err)
	}

	code := m.Run()
	adp.Close()
	os.Exit(code)
}

func TestConformance(t *testing.T) {
	testsuite.RunAll(t, adp)
}

func TestMessageGetAllSkipsMalformed(t *testing.T) {
	ctx := context.Background()
	db := adp.(interface{ GetTestDB() *pgxpool.Pool }).GetTestDB()

	ch := types.NewChannel("tok-mallory", "tok-trent")
	if err := adp.ChannelCreate(ctx, ch); err != nil {
		t.Fatal(err)
	}
	msg := &types.Message{Id: "good", Channel: ch.Key, Sender: "tok-mallory", Receiver: "tok-trent", Payload: "ok", CreatedAt: types.TimeNow()}
	if err := adp.MessageAppend(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(ctx,
		"INSERT INTO messages(id,channel,seqid,createdat,content) VALUES($1,$2,$3,$4,$5)",
		"bad", string(ch.Key), 99, types.TimeNow(), []byte(`{"seq":"NaN"}`)); err != nil {
		t.Fatal(err)
	}

	msgs, err := adp.MessageGetAll(ctx, ch.Key)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Id != "good" {
		t.Errorf("expected only the valid message, got %+v", msgs)
	}
}

// Creates or resets the database and optionally loads sample data.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	jcr "github.com/tinode/jsonco"

	_ "github.com/tinode/pairchat/server/db/firestore"
	_ "github.com/tinode/pairchat/server/db/memory"
	_ "github.com/tinode/pairchat/server/db/mongodb"
	_ "github.com/tinode/pairchat/server/db/mysql"
	_ "github.com/tinode/pairchat/server/db/postgres"
	_ "github.com/tinode/pairchat/server/db/rethinkdb"
	"github.com/tinode/pairchat/server/store"
)

type configType struct {
	WorkerID    int             `json:"worker_id"`
	StoreConfig json.RawMessage `json:"store_config"`
}

/*
User object in data.json

	"createdAt": "-140h",
	"token": "alice",
	"name": "Alice Johnson",
	"image": "https://example.com/alice.jpg"
*/
type User struct {
	CreatedAt string `json:"createdAt"`
	Token     string `json:"token"`
	Name      string `json:"name"`
	Image     string `json:"image"`
}

/*
Channel between two users in data.json

	["alice", "bob"]
*/
type Channel [2]string

// Data is the content of data.json.
type Data struct {
	Users    []User    `json:"users"`
	Channels []Channel `json:"channels"`
	// Texts of sample messages, randomly assigned to channels.
	Messages []string `json:"messages"`
	// Number of messages to generate per channel.
	MessagesPerChannel int `json:"messagesPerChannel"`
}

func loadConfig(path string) (*configType, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var config configType
	jr := jcr.New(file)
	if err = json.NewDecoder(jr).Decode(&config); err != nil {
		switch jerr := err.(type) {
		case *json.UnmarshalTypeError:
			lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
			log.Printf("Unmarshall error in config file in %s at %d:%d (offset %d bytes): %s",
				jerr.Field, lnum, cnum, jerr.Offset, jerr.Error())
		case *json.SyntaxError:
			lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
			log.Printf("Syntax error in config file at %d:%d (offset %d bytes): %s",
				lnum, cnum, jerr.Offset, jerr.Error())
		}
		return nil, err
	}
	return &config, nil
}

func main() {
	var reset = flag.Bool("reset", false, "force database reset")
	var datafile = flag.String("data", "", "name of file with sample data to load")
	var conffile = flag.String("config", "./pairchat.conf", "config of the database connection")

	flag.Parse()

	var data Data
	if *datafile != "" && *datafile != "-" {
		raw, err := os.ReadFile(*datafile)
		if err != nil {
			log.Fatalln("Failed to read sample data file:", err)
		}
		err = json.Unmarshal(raw, &data)
		if err != nil {
			log.Fatalln("Failed to parse sample data:", err)
		}
	}

	config, err := loadConfig(*conffile)
	if err != nil {
		log.Fatalln("Failed to read config file:", err)
	}

	st, err := store.Open(config.WorkerID, config.StoreConfig, nil)
	if err != nil {
		log.Fatalln("Failed to init DB adapter:", err)
	}
	defer st.Close()

	log.Println("Database adapter", st.GetAdapterName())

	if err = st.InitDb(*reset); err != nil {
		log.Fatalln("Failed to init DB:", err)
	}
	if *reset {
		log.Println("Database reset")
	} else {
		log.Println("Database initialized")
	}

	if err = genDb(context.Background(), st, &data); err != nil {
		log.Fatalln("Failed to load sample data:", err)
	}
}

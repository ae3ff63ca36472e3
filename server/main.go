/******************************************************************************
 *
 *  Copyright (C) 2014 Tinode, All Rights Reserved
 *
 *  This program is free software; you can redistribute it and/or modify it
 *  under the terms of the GNU Affero General Public License as published by
 *  the Free Software Foundation; either version 3 of the License, or (at your
 *  option) any later version.
 *
 *  This program is distributed in the hope that it will be useful, but
 *  WITHOUT ANY WARRANTY; without even the implied warranty of MERCHANTABILITY
 *  or FITNESS FOR A PARTICULAR PURPOSE.
 *  See the GNU Affero General Public License for more details.
 *
 *  You should have received a copy of the GNU Affero General Public License
 *  along with this program; if not, see <http://www.gnu.org/licenses>.
 *
 *  This code is available under licenses for commercial use.
 *
 *  File        :  main.go
 *  Author      :  Gene Sokolov
 *  Created     :  18-May-2014
 *
 ******************************************************************************
 *
 *  Description :
 *
 *  Setup & initialization.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
	jcr "github.com/tinode/jsonco"

	"github.com/tinode/pairchat/server/auth"
	"github.com/tinode/pairchat/server/live"
	"github.com/tinode/pairchat/server/logs"
	"github.com/tinode/pairchat/server/metrics"
	"github.com/tinode/pairchat/server/push"
	"github.com/tinode/pairchat/server/store"

	// Database backends
	_ "github.com/tinode/pairchat/server/db/firestore"
	_ "github.com/tinode/pairchat/server/db/memory"
	_ "github.com/tinode/pairchat/server/db/mongodb"
	_ "github.com/tinode/pairchat/server/db/mysql"
	_ "github.com/tinode/pairchat/server/db/postgres"
	_ "github.com/tinode/pairchat/server/db/rethinkdb"

	// Push notifications
	_ "github.com/tinode/pairchat/server/push/fcm"
	_ "github.com/tinode/pairchat/server/push/stdout"
)

const (
	// currentVersion is the current API/protocol version
	currentVersion = "0.1"

	// Default maximum size of a client message.
	defaultMaxMessageSize = 1 << 19

	// Default time limit for a single store request.
	defaultRequestTimeout = 10 * time.Second

	// Time to let live subscriptions wind down on shutdown.
	shutdownGrace = 2 * time.Second

	defaultApiPath     = "/v0/channels"
	defaultMetricsPath = "/metrics"
)

var globals struct {
	store         *store.Store
	hub           *live.Hub
	authenticator *auth.Authenticator
	sessionStore  *SessionStore
	metrics       *metrics.Metrics

	// Maximum allowed size of an incoming message.
	maxMessageSize int64
	// Time limit for a single store request.
	requestTimeout time.Duration
}

type configType struct {
	// HTTP(S) address:port to listen on for websocket clients.
	Listen string `json:"listen"`
	// Base URL path where websocket clients connect.
	ApiPath string `json:"api_path"`
	// URL path for exposing prometheus metrics. "-" disables metrics.
	MetricsPath string `json:"metrics_path"`
	// Maximum message size in bytes.
	MaxMessageSize int `json:"max_message_size"`
	// Store request timeout, milliseconds.
	RequestTimeout int `json:"request_timeout"`
	// Snowflake worker ID, 0..1023.
	WorkerID int `json:"worker_id"`

	// Configs for subsystems
	TLS         json.RawMessage `json:"tls"`
	StoreConfig json.RawMessage `json:"store_config"`
	AuthConfig  json.RawMessage `json:"auth_token"`
	Push        json.RawMessage `json:"push"`
}

type promHTTPLogger struct{}

func (promHTTPLogger) Println(v ...interface{}) {
	logs.Error.Println(v...)
}

// loadConfig reads a JSON-with-comments config file.
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
			logs.Error.Printf("Unmarshall error in config file in %s at %d:%d (offset %d bytes): %s",
				jerr.Field, lnum, cnum, jerr.Offset, jerr.Error())
		case *json.SyntaxError:
			lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
			logs.Error.Printf("Syntax error in config file at %d:%d (offset %d bytes): %s",
				lnum, cnum, jerr.Offset, jerr.Error())
		}
		return nil, err
	}
	return &config, nil
}

// newMux sets up HTTP routes.
func newMux(apiPath, metricsPath string, reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(apiPath, serveWebSocket)
	if reg != nil {
		mux.Handle(metricsPath, promhttp.InstrumentMetricHandler(reg,
			promhttp.HandlerFor(reg, promhttp.HandlerOpts{ErrorLog: promHTTPLogger{}})))
	}
	mux.HandleFunc("/", serve404)
	return mux
}

func main() {
	var configfile = flag.String("config", "pairchat.conf", "Path to config file.")
	var listenOn = flag.String("listen", "", "Override address and port to listen on for HTTP(S) clients.")
	var logFlags = flag.String("log_flags", "stdFlags", "Comma-separated list of log flags (as defined in https://golang.org/pkg/log/#pkg-constants without the L prefix)")
	flag.Parse()

	logs.Init(os.Stderr, *logFlags)

	logs.Info.Printf("Server v%s:%s pid=%d started with %d process(es)", currentVersion, version.Info(),
		os.Getpid(), runtime.GOMAXPROCS(runtime.NumCPU()))
	logs.Info.Printf("Using config from '%s'", *configfile)

	config, err := loadConfig(*configfile)
	if err != nil {
		logs.Error.Fatal("Failed to read config file: ", err)
	}

	if *listenOn != "" {
		config.Listen = *listenOn
	}
	if config.ApiPath == "" {
		config.ApiPath = defaultApiPath
	}
	if !strings.HasPrefix(config.ApiPath, "/") {
		config.ApiPath = "/" + config.ApiPath
	}

	globals.maxMessageSize = int64(config.MaxMessageSize)
	if globals.maxMessageSize <= 0 {
		globals.maxMessageSize = defaultMaxMessageSize
	}
	globals.requestTimeout = time.Duration(config.RequestTimeout) * time.Millisecond
	if globals.requestTimeout <= 0 {
		globals.requestTimeout = defaultRequestTimeout
	}

	var reg *prometheus.Registry
	if config.MetricsPath != "-" {
		if config.MetricsPath == "" {
			config.MetricsPath = defaultMetricsPath
		}
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewBuildInfoCollector(),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "pairchat",
				Name:      "sessions_live",
				Help:      "Number of connected websocket sessions.",
			}, func() float64 {
				if globals.sessionStore == nil {
					return 0
				}
				return float64(globals.sessionStore.Len())
			}),
		)
		globals.metrics = metrics.New(reg)
		logs.Info.Printf("Metrics exposed at '%s'", config.MetricsPath)
	}

	globals.store, err = store.Open(config.WorkerID, config.StoreConfig, globals.metrics)
	if err != nil {
		logs.Error.Fatal("Failed to connect to DB: ", err)
	}
	logs.Info.Println("DB adapter", globals.store.GetAdapterName())
	defer func() {
		globals.store.Close()
		logs.Info.Println("Closed database connection(s)")
	}()

	globals.authenticator, err = auth.New(config.AuthConfig)
	if err != nil {
		logs.Error.Fatal("Failed to init session tokens: ", err)
	}

	if config.Push != nil {
		pushHandlers, err := push.Init(config.Push)
		if err != nil {
			logs.Error.Fatal("Failed to initialize push notifications: ", err)
		}
		logs.Info.Printf("Push handlers configured: %v", pushHandlers)
	}
	defer push.Stop()

	globals.sessionStore = NewSessionStore()
	globals.hub = live.NewHub(globals.store)

	mux := newMux(config.ApiPath, config.MetricsPath, reg)
	handler := handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(
		handlers.CombinedLoggingHandler(os.Stdout, mux))

	logs.Info.Printf("Websocket clients at '%s'", config.ApiPath)
	if err = listenAndServe(config.Listen, handler, config.TLS, signalHandler()); err != nil {
		logs.Error.Fatal(err)
	}
	logs.Info.Println("All done, good bye")
}

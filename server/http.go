/******************************************************************************
 *
 *  Description :
 *
 *  Web server initialization and shutdown.
 *
 *****************************************************************************/

package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"github.com/tinode/pairchat/server/logs"
	"github.com/tinode/pairchat/server/store/types"
)

type tlsConfig struct {
	// Flag enabling TLS
	Enabled bool `json:"enabled"`
	// Listen on port 80 and redirect plain HTTP to HTTPS
	RedirectHTTP string `json:"http_redirect"`
	// ACME autocert config, e.g. letsencrypt.org
	Autocert *tlsAutocertConfig `json:"autocert"`
	// If Autocert is not defined, provide file names of static certificate and key
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`
}

type tlsAutocertConfig struct {
	// Domains to support by autocert
	Domains []string `json:"domains"`
	// Name of directory where auto-certificates are cached, e.g. /etc/letsencrypt/live/your-domain-here
	CertCache string `json:"cache"`
	// Contact email for letsencrypt
	Email string `json:"email"`
}

func parseTLSConfig(raw json.RawMessage) (*tlsConfig, error) {
	var config tlsConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &config); err != nil {
			return nil, errors.New("http: failed to parse tls config: " + err.Error() + "(" + string(raw) + ")")
		}
	}
	if config.Enabled && config.Autocert == nil && (config.CertFile == "" || config.KeyFile == "") {
		return nil, errors.New("http: missing certificate or key file names")
	}
	return &config, nil
}

func listenAndServe(addr string, handler http.Handler, tlsRaw json.RawMessage, stop <-chan bool) error {
	config, err := parseTLSConfig(tlsRaw)
	if err != nil {
		return err
	}

	shuttingDown := false

	httpdone := make(chan bool)

	server := &http.Server{Addr: addr, Handler: handler}
	if config.Enabled {
		// If port is not specified, use default https port (443),
		// otherwise it will default to 80
		if server.Addr == "" {
			server.Addr = ":https"
		}

		server.TLSConfig = &tls.Config{}
		if config.Autocert != nil {
			certManager := autocert.Manager{
				Prompt:     autocert.AcceptTOS,
				HostPolicy: autocert.HostWhitelist(config.Autocert.Domains...),
				Cache:      autocert.DirCache(config.Autocert.CertCache),
				Email:      config.Autocert.Email,
			}

			server.TLSConfig.GetCertificate = certManager.GetCertificate
			if config.CertFile != "" || config.KeyFile != "" {
				logs.Warning.Printf("HTTP server: using autocert, static cert and key files are ignored")
				config.CertFile = ""
				config.KeyFile = ""
			}
		}
	}

	go func() {
		var err error
		if config.Enabled {
			if config.RedirectHTTP != "" {
				logs.Info.Printf("Redirecting connections from HTTP at [%s] to HTTPS at [%s]",
					config.RedirectHTTP, server.Addr)
				go http.ListenAndServe(config.RedirectHTTP, tlsRedirect(server.Addr))
			}

			logs.Info.Printf("Listening for client HTTPS connections on [%s]", server.Addr)
			err = server.ListenAndServeTLS(config.CertFile, config.KeyFile)
		} else {
			logs.Info.Printf("Listening for client HTTP connections on [%s]", server.Addr)
			err = server.ListenAndServe()
		}
		if err != nil {
			if shuttingDown {
				logs.Info.Printf("HTTP server: stopped")
			} else {
				logs.Error.Println("HTTP server: failed", err)
			}
		}
		httpdone <- true
	}()

	// Wait for either a termination signal or an error
	select {
	case <-stop:
		// Flip the flag that we are terminating and close the Accept-ing socket, so no new connections are possible
		shuttingDown = true
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			// failure/timeout shutting down the server gracefully
			return err
		}

		// Wait for http server to stop Accept()-ing connections
		<-httpdone

		// Terminate all sessions
		globals.sessionStore.Shutdown()

		// Stop live subscriptions
		globals.hub.Shutdown(shutdownGrace)

	case <-httpdone:
	}
	return nil
}

func signalHandler() <-chan bool {
	stop := make(chan bool)

	signchan := make(chan os.Signal, 1)
	signal.Notify(signchan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		// Wait for a signal. Don't care which signal it is
		sig := <-signchan
		logs.Info.Printf("Signal received: '%s', shutting down", sig)
		stop <- true
	}()

	return stop
}

func serve404(wrt http.ResponseWriter, req *http.Request) {
	wrt.WriteHeader(http.StatusNotFound)
	json.NewEncoder(wrt).Encode(ctrl("", "", http.StatusNotFound, "not found", types.TimeNow()))
}

// Redirect HTTP requests to HTTPS
func tlsRedirect(toPort string) http.HandlerFunc {
	if toPort == ":443" || toPort == ":https" {
		toPort = ""
	} else if idx := strings.LastIndex(toPort, ":"); idx > 0 {
		toPort = toPort[idx:]
	}
	return func(wrt http.ResponseWriter, req *http.Request) {
		target := "https://" + strings.Split(req.Host, ":")[0] + toPort + req.URL.Path
		if req.URL.RawQuery != "" {
			target += "?" + req.URL.RawQuery
		}
		http.Redirect(wrt, req, target, http.StatusTemporaryRedirect)
	}
}

// Package fcm implements push notification plugin for Google Firebase Cloud Messaging.
// Notifications are sent to FCM topics, one per user: clients subscribe to the
// topic of the signed-in user.
package fcm

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	fbase "firebase.google.com/go"
	fcm "firebase.google.com/go/messaging"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"

	"github.com/tinode/pairchat/server/logs"
	"github.com/tinode/pairchat/server/push"
)

var handler Handler

const (
	// Size of the input channel buffer.
	defaultBuffer = 32
	// TTL of a push notification in seconds.
	defaultTimeToLive = 3600
	// Default prefix of per-user topics.
	defaultTopicPrefix = "usr_"
)

// Handler represents the push handler; implements push.PushHandler interface.
type Handler struct {
	input  chan *push.Receipt
	stop   chan bool
	client *fcm.Client
	config *configType
}

type configType struct {
	Enabled         bool            `json:"enabled"`
	Buffer          int             `json:"buffer"`
	ProjectID       string          `json:"project_id"`
	Credentials     json.RawMessage `json:"credentials"`
	CredentialsFile string          `json:"credentials_file"`
	TimeToLive      int             `json:"time_to_live,omitempty"`
	TopicPrefix     string          `json:"topic_prefix,omitempty"`
	Title           string          `json:"title,omitempty"`
	Icon            string          `json:"icon,omitempty"`
	IconColor       string          `json:"icon_color,omitempty"`
}

// Init initializes the push handler
func (Handler) Init(jsonconf json.RawMessage) (bool, error) {
	var config configType
	err := json.Unmarshal(jsonconf, &config)
	if err != nil {
		return false, errors.New("failed to parse config: " + err.Error())
	}

	if !config.Enabled {
		return false, nil
	}

	if config.Credentials == nil && config.CredentialsFile != "" {
		config.Credentials, err = os.ReadFile(config.CredentialsFile)
		if err != nil {
			return false, err
		}
	}
	if config.Credentials == nil {
		return false, errors.New("missing credentials")
	}

	ctx := context.Background()
	credentials, err := google.CredentialsFromJSON(ctx, config.Credentials, "https://www.googleapis.com/auth/firebase.messaging")
	if err != nil {
		return false, err
	}
	if config.ProjectID == "" {
		config.ProjectID = credentials.ProjectID
	}

	app, err := fbase.NewApp(ctx, &fbase.Config{ProjectID: config.ProjectID}, option.WithCredentials(credentials))
	if err != nil {
		return false, err
	}

	handler.client, err = app.Messaging(ctx)
	if err != nil {
		return false, err
	}

	if config.Buffer <= 0 {
		config.Buffer = defaultBuffer
	}
	if config.TimeToLive <= 0 {
		config.TimeToLive = defaultTimeToLive
	}
	if config.TopicPrefix == "" {
		config.TopicPrefix = defaultTopicPrefix
	}
	handler.config = &config

	handler.input = make(chan *push.Receipt, config.Buffer)
	handler.stop = make(chan bool, 1)

	go func() {
		for {
			select {
			case rcpt := <-handler.input:
				go sendNotifications(rcpt, &config)
			case <-handler.stop:
				return
			}
		}
	}()

	return true, nil
}

func sendNotifications(rcpt *push.Receipt, config *configType) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, msg := range prepareMessages(rcpt, config) {
		_, err := handler.client.Send(ctx, msg)
		if err == nil {
			continue
		}
		if fcm.IsMessageRateExceeded(err) ||
			fcm.IsServerUnavailable(err) ||
			fcm.IsInternal(err) ||
			fcm.IsUnknown(err) {
			// Transient errors. Stop sending this batch.
			logs.Warning.Println("fcm transient failure:", err)
			return
		}
		if fcm.IsMismatchedCredential(err) || fcm.IsInvalidArgument(err) {
			// Config errors. Stop.
			logs.Warning.Println("fcm push failed:", err)
			return
		}
		logs.Warning.Println("fcm push failed:", err)
	}
}

// IsReady checks if the push handler has been initialized.
func (Handler) IsReady() bool {
	return handler.input != nil
}

// Push return a channel that the server will use to send messages to.
// If the adapter blocks, the message will be dropped.
func (Handler) Push() chan<- *push.Receipt {
	return handler.input
}

// Stop shuts down the handler
func (Handler) Stop() {
	handler.stop <- true
}

func init() {
	push.Register("fcm", &handler)
}

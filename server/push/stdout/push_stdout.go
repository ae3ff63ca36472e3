// Package stdout is a sample implementation of a push plugin.
// If enabled, it writes every notification to stdout as a line of JSON.
package stdout

import (
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/tinode/pairchat/server/logs"
	"github.com/tinode/pairchat/server/push"
)

var handler stdoutPush

// How much to buffer the input channel.
const defaultBuffer = 32

type stdoutPush struct {
	initialized bool
	input       chan *push.Receipt
	stop        chan bool
	done        chan struct{}
	out         io.Writer
}

type configType struct {
	Enabled bool `json:"enabled"`
	Buffer  int  `json:"buffer"`
}

// Init initializes the handler
func (stdoutPush) Init(jsonconf json.RawMessage) (bool, error) {

	// Check if the handler is already initialized
	if handler.initialized {
		return false, errors.New("already initialized")
	}

	var config configType
	if err := json.Unmarshal([]byte(jsonconf), &config); err != nil {
		return false, errors.New("failed to parse config: " + err.Error())
	}

	handler.initialized = true

	if !config.Enabled {
		return false, nil
	}

	if config.Buffer <= 0 {
		config.Buffer = defaultBuffer
	}
	if handler.out == nil {
		handler.out = os.Stdout
	}

	handler.input = make(chan *push.Receipt, config.Buffer)
	handler.stop = make(chan bool, 1)
	handler.done = make(chan struct{})

	go func() {
		defer close(handler.done)
		enc := json.NewEncoder(handler.out)
		for {
			select {
			case msg := <-handler.input:
				if err := enc.Encode(msg); err != nil {
					logs.Warning.Println("push stdout:", err)
				}
			case <-handler.stop:
				return
			}
		}
	}()

	return true, nil
}

// IsReady checks if the handler is initialized.
func (stdoutPush) IsReady() bool {
	return handler.input != nil
}

// Push returns a channel that the server will use to send messages to.
// If the adapter blocks, the message will be dropped.
func (stdoutPush) Push() chan<- *push.Receipt {
	return handler.input
}

// Stop terminates the handler's worker and stops sending pushes.
func (stdoutPush) Stop() {
	handler.stop <- true
	<-handler.done
}

func init() {
	push.Register("stdout", &handler)
}

/******************************************************************************
 *
 *  Description :
 *    Package exposes info, warning and error loggers.
 *
 *****************************************************************************/
package logs

import (
	"io"
	"log"
	"os"
	"strings"
)

var (
	// Info is a logger at the 'info' logging level.
	Info *log.Logger
	// Warning is a logger at the 'warning' logging level.
	Warning *log.Logger
	// Error is a logger at the 'error' logging level.
	Error *log.Logger
)

func parseFlags(logFlags string) int {
	flags := 0
	for _, v := range strings.Split(logFlags, ",") {
		switch strings.TrimSpace(v) {
		case "date":
			flags |= log.Ldate
		case "time":
			flags |= log.Ltime
		case "microseconds":
			flags |= log.Lmicroseconds
		case "longfile":
			flags |= log.Llongfile
		case "shortfile":
			flags |= log.Lshortfile
		case "UTC":
			flags |= log.LUTC
		case "msgprefix":
			flags |= log.Lmsgprefix
		case "stdFlags":
			flags |= log.LstdFlags
		}
	}
	if flags == 0 {
		flags = log.LstdFlags | log.Lshortfile
	}
	return flags
}

// Init initializes the loggers. logFlags is a comma-separated list of
// log package flag names; empty means "stdFlags,shortfile".
func Init(output io.Writer, logFlags string) {
	flags := parseFlags(logFlags)
	Info = log.New(output, "I", flags)
	Warning = log.New(output, "W", flags)
	Error = log.New(output, "E", flags)
}

func init() {
	// Usable before Init is called, e.g. in tests.
	Init(os.Stderr, "")
}

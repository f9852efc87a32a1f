package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// App tags every entry so ledger logs can be told apart in shared sinks.
const App = "txledgerd"

// New returns a stdout logger; see NewWithWriter.
func New(logLevel int, logFormat string, logSampler bool) zerolog.Logger {
	return NewWithWriter(os.Stdout, logLevel, logFormat, logSampler)
}

// NewWithWriter builds the daemon logger. Any format other than "json" is
// rendered by a ConsoleWriter, colored only on stdout. Sampling keeps one
// entry in five.
func NewWithWriter(out io.Writer, logLevel int, logFormat string, logSampler bool) zerolog.Logger {
	w := out
	if logFormat != "json" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: out != os.Stdout}
	}

	l := zerolog.New(w).Level(zerolog.Level(logLevel)).
		With().Timestamp().Str("app", App).
		Logger()
	if logSampler {
		return l.Sample(&zerolog.BasicSampler{N: 5})
	}
	return l
}

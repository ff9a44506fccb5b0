package app

import (
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// MemoryLog keeps the log tail for the HTTP API even when output goes
// nowhere else.
var MemoryLog = newLogRing(1024)

var Logger zerolog.Logger

// GetLogger returns the root logger, optionally re-leveled by a
// `log: {module: level}` config entry.
func GetLogger(module string) zerolog.Logger {
	if s, ok := modules[module]; ok {
		lvl, err := zerolog.ParseLevel(s)
		if err == nil {
			return Logger.Level(lvl)
		}
		Logger.Warn().Err(err).Caller().Send()
	}

	return Logger
}

// initLogger support:
// - output: empty (only to memory), stderr, stdout
// - format: empty (autodetect color support), color, json, text
// - time:   empty (disable timestamp), UNIXMS, UNIXMICRO, UNIXNANO
// - level:  disabled, trace, debug, info, warn, error...
func initLogger() {
	var cfg struct {
		Mod map[string]string `yaml:"log"`
	}

	cfg.Mod = modules // defaults

	LoadConfig(&cfg)

	var writer io.Writer

	switch modules["output"] {
	case "stderr":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	}

	timeFormat := modules["time"]

	if writer != nil {
		if format := modules["format"]; format != "json" {
			console := &zerolog.ConsoleWriter{Out: writer}

			switch format {
			case "text":
				console.NoColor = true
			case "color":
				console.NoColor = false
			default:
				// go-isatty - dependency for go-colorable - dependency for ConsoleWriter
				console.NoColor = !isatty.IsTerminal(writer.(*os.File).Fd())
			}

			if timeFormat != "" {
				console.TimeFormat = "15:04:05.000"
			} else {
				console.PartsOrder = []string{
					zerolog.LevelFieldName,
					zerolog.CallerFieldName,
					zerolog.MessageFieldName,
				}
			}

			writer = console
		}

		writer = zerolog.MultiLevelWriter(writer, MemoryLog)
	} else {
		writer = MemoryLog
	}

	lvl, _ := zerolog.ParseLevel(modules["level"])
	Logger = zerolog.New(writer).Level(lvl)

	if timeFormat != "" {
		zerolog.TimeFieldFormat = timeFormat
		Logger = Logger.With().Timestamp().Logger()
	}
}

// modules log levels
var modules = map[string]string{
	"format": "",
	"level":  "info",
	"output": "stdout",
	"time":   zerolog.TimeFormatUnixMs,
}

// logRing is a ring of whole log lines. zerolog hands each event to
// Write as one call, so a slot is a line.
type logRing struct {
	mu    sync.Mutex
	lines [][]byte
	next  int
	full  bool
}

func newLogRing(size int) *logRing {
	return &logRing{lines: make([][]byte, size)}
}

func (r *logRing) Write(p []byte) (int, error) {
	line := append([]byte(nil), p...)

	r.mu.Lock()
	r.lines[r.next] = line
	if r.next++; r.next == len(r.lines) {
		r.next = 0
		r.full = true
	}
	r.mu.Unlock()

	return len(p), nil
}

func (r *logRing) WriteTo(w io.Writer) (n int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start, count := 0, r.next
	if r.full {
		start, count = r.next, len(r.lines)
	}

	for i := 0; i < count; i++ {
		var nn int
		if nn, err = w.Write(r.lines[(start+i)%len(r.lines)]); err != nil {
			return
		}
		n += int64(nn)
	}
	return
}

func (r *logRing) Reset() {
	r.mu.Lock()
	for i := range r.lines {
		r.lines[i] = nil
	}
	r.next = 0
	r.full = false
	r.mu.Unlock()
}

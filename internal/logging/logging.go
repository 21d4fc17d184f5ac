package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init points the global logger at path. When stderr is a terminal the same
// lines are echoed there in console format.
func Init(level zerolog.Level, path string) {
	logFile, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		panic(fmt.Errorf("failed to open log file: %w", err))
	}

	writers := []io.Writer{logFile}
	if isTerminal(os.Stderr) {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
	}
	multi := zerolog.MultiLevelWriter(writers...)

	logger := zerolog.New(multi).Level(level).With().Timestamp().Logger()
	log.Logger = logger

	if level <= zerolog.DebugLevel {
		log.Debug().Str("path", path).Msg("Log level set to DEBUG")
	}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

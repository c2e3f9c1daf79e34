package log

import (
	"io"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/vrouter/internal/config"
)

// AddFileAppender adds a rotating file output.
func (m *MultiWriter) AddFileAppender(fc config.FileOutputConfig) *MultiWriter {
	writer := &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.Rotation.MaxSizeMB,  // megabytes
		MaxBackups: fc.Rotation.MaxBackups, // number of backups
		MaxAge:     fc.Rotation.MaxAgeDays, // days
		Compress:   fc.Rotation.Compress,   // compress the backups
	}
	m.writers = append(m.writers, writer)
	return m
}

func isStdStream(w io.Writer) bool {
	return w == os.Stdout || w == os.Stderr
}

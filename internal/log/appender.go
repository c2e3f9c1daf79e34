package log

import (
	"errors"
	"io"
)

// MultiWriter duplicates writes to every appender. A failing appender does
// not stop the others.
type MultiWriter struct {
	writers []io.Writer
}

func NewMultiWriter() *MultiWriter {
	return &MultiWriter{writers: make([]io.Writer, 0)}
}

func (m *MultiWriter) Write(p []byte) (n int, err error) {
	for _, w := range m.writers {
		if _, e := w.Write(p); e != nil {
			err = e
		}
	}
	return len(p), err
}

func (m *MultiWriter) Add(writer io.Writer) *MultiWriter {
	m.writers = append(m.writers, writer)
	return m
}

// Len returns the number of appenders.
func (m *MultiWriter) Len() int { return len(m.writers) }

// Close closes every appender that is an io.Closer, except the standard
// streams.
func (m *MultiWriter) Close() error {
	var errs []error
	for _, w := range m.writers {
		if isStdStream(w) {
			continue
		}
		if c, ok := w.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

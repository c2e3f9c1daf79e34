package log

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Console pattern defaults.
const (
	DefaultPattern    = "%msg\n"
	DefaultTimeFormat = "15:04:05.000"
)

// NewConsoleLogger returns the logger that prints router and connection
// lines to the operator. The pattern understands %time, %level, %field and
// %msg.
func NewConsoleLogger(w io.Writer, pattern, timeFormat string) *logrus.Logger {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if timeFormat == "" {
		timeFormat = DefaultTimeFormat
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&formatter{pattern: pattern, time: timeFormat})
	return l
}

type formatter struct {
	pattern string
	time    string
}

func (f *formatter) Format(entry *logrus.Entry) ([]byte, error) {
	r := strings.NewReplacer(
		"%time", entry.Time.Format(f.time),
		"%level", entry.Level.String(),
		"%field", buildFields(entry),
		"%msg", entry.Message,
	)
	return []byte(r.Replace(f.pattern)), nil
}

func buildFields(entry *logrus.Entry) string {
	fields := make([]string, 0, len(entry.Data))
	for key, val := range entry.Data {
		s, ok := val.(string)
		if !ok {
			s = fmt.Sprint(val)
		}
		fields = append(fields, key+"="+s)
	}
	sort.Strings(fields)
	return strings.Join(fields, ",")
}

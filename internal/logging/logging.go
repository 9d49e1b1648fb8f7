// Package logging builds the logrus loggers used by the chat binaries.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/sirupsen/logrus"
)

// TimestampFormat is the layout printed at the start of every log line.
const TimestampFormat = "02/01/2006 03:04:05 PM"

// LineFormatter prints "<timestamp> >  <message> (k=v k=v)".
type LineFormatter struct{}

// Format implements logrus.Formatter.
func (f *LineFormatter) Format(e *logrus.Entry) ([]byte, error) {
	out := bytes.NewBuffer(make([]byte, 0, 128))
	fmt.Fprintf(out, "%s >  ", e.Time.Format(TimestampFormat))
	if e.Level != logrus.InfoLevel {
		fmt.Fprintf(out, "[%s] ", e.Level)
	}
	out.WriteString(e.Message)

	if len(e.Data) > 0 {
		keys := make([]string, 0, len(e.Data))
		for k := range e.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				out.WriteByte(' ')
			}
			fmt.Fprintf(out, "%s=%v", k, e.Data[k])
		}
		out.WriteByte(')')
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// New returns a logger writing to out. Debug output is enabled by debug.
func New(debug bool, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&LineFormatter{})
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

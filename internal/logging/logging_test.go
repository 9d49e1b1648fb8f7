package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewLevels(t *testing.T) {
	if got := New(true, &bytes.Buffer{}).GetLevel(); got != logrus.DebugLevel {
		t.Errorf("Expected debug level, got %v", got)
	}
	if got := New(false, &bytes.Buffer{}).GetLevel(); got != logrus.InfoLevel {
		t.Errorf("Expected info level, got %v", got)
	}
}

func TestLineFormatter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(false, &buf)

	logger.WithFields(logrus.Fields{"user": "alice", "addr": "127.0.0.1-5000"}).Info("New user connected")
	line := buf.String()

	if !strings.Contains(line, " >  New user connected (addr=127.0.0.1-5000 user=alice)") {
		t.Errorf("Unexpected log line %q", line)
	}
	if strings.Contains(line, "[info]") {
		t.Errorf("Info lines should not carry a level tag: %q", line)
	}

	buf.Reset()
	logger.Warn("send failed")
	if !strings.Contains(buf.String(), "[warning] send failed") {
		t.Errorf("Expected level tag on warning, got %q", buf.String())
	}
}

func TestDebugSuppressed(t *testing.T) {
	var buf bytes.Buffer
	logger := New(false, &buf)
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("Expected no debug output, got %q", buf.String())
	}
}

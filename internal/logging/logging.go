package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// New builds the process logger. format is "json" or "text".
func New(level, format string, out io.Writer) *logrus.Logger {
	if out == nil {
		out = os.Stdout
	}
	l := logrus.New()
	l.SetOutput(out)

	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if strings.EqualFold(format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	}
	return l
}

// waLogger routes whatsmeow's internal logging through logrus.
type waLogger struct {
	entry *logrus.Entry
}

// WhatsApp adapts a logrus entry to the whatsmeow logger interface. module is
// recorded in the "module" field; Sub appends to it.
func WhatsApp(entry *logrus.Entry, module string) waLog.Logger {
	return &waLogger{entry: entry.WithField("module", module)}
}

func (l *waLogger) Debugf(msg string, args ...interface{}) { l.entry.Debugf(msg, args...) }
func (l *waLogger) Infof(msg string, args ...interface{})  { l.entry.Infof(msg, args...) }
func (l *waLogger) Warnf(msg string, args ...interface{})  { l.entry.Warnf(msg, args...) }
func (l *waLogger) Errorf(msg string, args ...interface{}) { l.entry.Errorf(msg, args...) }

func (l *waLogger) Sub(module string) waLog.Logger {
	parent, _ := l.entry.Data["module"].(string)
	name := module
	if parent != "" {
		name = fmt.Sprintf("%s/%s", parent, module)
	}
	return &waLogger{entry: l.entry.WithField("module", name)}
}

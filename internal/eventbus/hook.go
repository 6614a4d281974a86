package eventbus

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// PublishedField marks a log entry whose event was already published on the
// bus directly. LogHook does not mirror such entries.
const PublishedField = "event_published"

// LogHook mirrors log entries onto a Bus so live subscribers see the
// service's own log output.
type LogHook struct {
	bus       *Bus
	levels    []logrus.Level
	formatter logrus.Formatter
}

// NewLogHook forwards entries at minLevel or more severe.
func NewLogHook(bus *Bus, minLevel logrus.Level) *LogHook {
	var levels []logrus.Level
	for _, lvl := range logrus.AllLevels {
		if lvl <= minLevel {
			levels = append(levels, lvl)
		}
	}
	return &LogHook{
		bus:    bus,
		levels: levels,
		formatter: &logrus.TextFormatter{
			DisableColors:    true,
			FullTimestamp:    true,
			TimestampFormat:  time.RFC3339,
			DisableSorting:   false,
			QuoteEmptyFields: true,
		},
	}
}

// Levels implements logrus.Hook.
func (h *LogHook) Levels() []logrus.Level {
	return h.levels
}

// Fire implements logrus.Hook.
func (h *LogHook) Fire(entry *logrus.Entry) error {
	if published, _ := entry.Data[PublishedField].(bool); published {
		return nil
	}
	data, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	h.bus.Publish(strings.TrimRight(string(data), "\n"))
	return nil
}

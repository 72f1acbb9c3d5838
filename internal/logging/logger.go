// Package logging provides the process-wide structured logger. It is a
// smaller cousin of a context-scoped zap wrapper: room transitions log with
// explicit room_id/name/generation fields rather than context values, since
// the room engine has no context.Context of its own (spec.md §5 — no
// suspension inside a transition).
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
)

// Initialize builds the global logger. development selects human-readable,
// colorized output; otherwise JSON with an ISO8601 timestamp key.
func Initialize(development bool) error {
	var err error
	once.Do(func() {
		var config zap.Config
		if development {
			config = zap.NewDevelopmentConfig()
			config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			config = zap.NewProductionConfig()
			config.EncoderConfig.TimeKey = "timestamp"
			config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}

		config.OutputPaths = []string{"stdout"}
		config.ErrorOutputPaths = []string{"stderr"}

		logger, err = config.Build(zap.AddCallerSkip(1))
	})
	return err
}

// L returns the global logger, building a development fallback if
// Initialize was never called (e.g. in tests).
func L() *zap.Logger {
	if logger == nil {
		l, _ := zap.NewDevelopment()
		return l
	}
	return logger
}

func RoomField(roomID string) zap.Field      { return zap.String("room_id", roomID) }
func NameField(name string) zap.Field        { return zap.String("name", name) }
func GenerationField(gen uint64) zap.Field   { return zap.Uint64("generation", gen) }
func StageField(stage fmt.Stringer) zap.Field { return zap.Stringer("stage", stage) }
func ErrorField(err error) zap.Field          { return zap.Error(err) }

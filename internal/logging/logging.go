// Package logging builds the zap loggers used across the server and the
// sink that mirrors log records into the editor's output channel.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger categories. Child categories are zap logger names below Root.
const (
	Root      = "hongdown"
	Config    = "config"
	Formatter = "formatter"
	Process   = "process"
	Registry  = "registry"
	Server    = "server"
	Main      = "main"
)

// CategorySeparator joins category parts when records are rendered.
const CategorySeparator = "·"

// New returns the root logger. Records at level and above go to stderr;
// when channel is non-nil every record at debug and above is also sent
// there.
func New(level zapcore.LevelEnabler, channel Channel) *zap.Logger {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.Lock(os.Stderr),
			level,
		),
	}
	if channel != nil {
		cores = append(cores, NewChannelCore(channel, zapcore.DebugLevel))
	}

	return zap.New(zapcore.NewTee(cores...)).Named(Root)
}

// ParseLevel maps a flag value to a zap level, defaulting to info.
func ParseLevel(text string) zapcore.Level {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(text)); err != nil {
		return zapcore.InfoLevel
	}
	return level
}

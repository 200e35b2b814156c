package logging

import (
	"context"
	"encoding/json"
	"strings"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/zap/zapcore"
)

// Severity is the level a Channel renders a record at.
type Severity uint8

const (
	SeverityTrace Severity = iota
	SeverityDebug
	SeverityInfo
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return "trace"
	}
}

// SeverityFor maps a zap level onto a channel severity. Levels below debug
// have no counterpart and become trace.
func SeverityFor(level zapcore.Level) Severity {
	switch level {
	case zapcore.DebugLevel:
		return SeverityDebug
	case zapcore.InfoLevel:
		return SeverityInfo
	case zapcore.WarnLevel:
		return SeverityWarn
	case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return SeverityError
	default:
		return SeverityTrace
	}
}

// Channel is a host-visible log output.
type Channel interface {
	Log(severity Severity, message string)
}

// ChannelCore is a zapcore.Core writing rendered records to a Channel.
type ChannelCore struct {
	zapcore.LevelEnabler
	channel Channel
	fields  []zapcore.Field
}

func NewChannelCore(channel Channel, enabler zapcore.LevelEnabler) *ChannelCore {
	return &ChannelCore{LevelEnabler: enabler, channel: channel}
}

func (c *ChannelCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &ChannelCore{
		LevelEnabler: c.LevelEnabler,
		channel:      c.channel,
		fields:       make([]zapcore.Field, 0, len(c.fields)+len(fields)),
	}
	clone.fields = append(clone.fields, c.fields...)
	clone.fields = append(clone.fields, fields...)
	return clone
}

func (c *ChannelCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *ChannelCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	c.channel.Log(SeverityFor(entry.Level), Render(entry, append(c.fields[:len(c.fields):len(c.fields)], fields...)))
	return nil
}

func (c *ChannelCore) Sync() error {
	return nil
}

// Render formats a record as "[category] message {fields}".
func Render(entry zapcore.Entry, fields []zapcore.Field) string {
	var b strings.Builder

	if entry.LoggerName != "" {
		b.WriteString("[")
		b.WriteString(strings.ReplaceAll(entry.LoggerName, ".", CategorySeparator))
		b.WriteString("] ")
	}
	b.WriteString(entry.Message)

	if len(fields) > 0 {
		encoder := zapcore.NewMapObjectEncoder()
		for _, field := range fields {
			field.AddTo(encoder)
		}
		if data, err := json.Marshal(encoder.Fields); err == nil {
			b.WriteString(" ")
			b.Write(data)
		}
	}

	return b.String()
}

// ClientChannel sends records to the client as window/logMessage
// notifications.
type ClientChannel struct {
	conn jsonrpc2.Conn
}

func NewClientChannel(conn jsonrpc2.Conn) *ClientChannel {
	return &ClientChannel{conn: conn}
}

func (c *ClientChannel) Log(severity Severity, message string) {
	messageType := protocol.MessageTypeLog
	switch severity {
	case SeverityError:
		messageType = protocol.MessageTypeError
	case SeverityWarn:
		messageType = protocol.MessageTypeWarning
	case SeverityInfo:
		messageType = protocol.MessageTypeInfo
	default:
		message = "[" + severity.String() + "] " + message
	}

	// A lost log line must not affect the caller.
	_ = c.conn.Notify(context.Background(), protocol.MethodWindowLogMessage, &protocol.LogMessageParams{
		Type:    messageType,
		Message: message,
	})
}

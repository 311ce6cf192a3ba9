package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 日志接口，kv 为交替的键值对
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Err(err error, msg string, kv ...any)
	With(kv ...any) Logger
}

// Options 日志配置
type Options struct {
	Level string
	// Writer 可选 "console"（stderr）与 "file"
	Writer []string
	File   string
}

type zeroLogger struct {
	l zerolog.Logger
}

// New 按配置创建日志实例；stdout 留给报告输出，控制台日志写 stderr
func New(opts Options) Logger {
	var writers []io.Writer
	for _, w := range opts.Writer {
		switch strings.ToLower(w) {
		case "console":
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
		case "file":
			name := opts.File
			if name == "" {
				name = "cdpaudit.log"
			}
			writers = append(writers, &lumberjack.Logger{
				Filename:   name,
				MaxSize:    20,
				MaxBackups: 3,
				MaxAge:     7,
			})
		}
	}
	if len(writers) == 0 {
		return NewNop()
	}
	return NewWithWriter(zerolog.MultiLevelWriter(writers...), opts.Level)
}

// NewWithWriter 输出 JSON 行到指定 writer，写入经过互斥保护
func NewWithWriter(w io.Writer, level string) Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return &zeroLogger{l: zerolog.New(zerolog.SyncWriter(w)).Level(lvl).With().Timestamp().Logger()}
}

// NewNop 丢弃所有输出
func NewNop() Logger {
	return &zeroLogger{l: zerolog.Nop()}
}

func (z *zeroLogger) Debug(msg string, kv ...any) { withFields(z.l.Debug(), kv).Msg(msg) }
func (z *zeroLogger) Info(msg string, kv ...any)  { withFields(z.l.Info(), kv).Msg(msg) }
func (z *zeroLogger) Warn(msg string, kv ...any)  { withFields(z.l.Warn(), kv).Msg(msg) }
func (z *zeroLogger) Error(msg string, kv ...any) { withFields(z.l.Error(), kv).Msg(msg) }

func (z *zeroLogger) Err(err error, msg string, kv ...any) {
	withFields(z.l.Error().Err(err), kv).Msg(msg)
}

func (z *zeroLogger) With(kv ...any) Logger {
	if len(kv) == 0 {
		return z
	}
	return &zeroLogger{l: z.l.With().Fields(kv).Logger()}
}

func withFields(e *zerolog.Event, kv []any) *zerolog.Event {
	if len(kv) == 0 {
		return e
	}
	return e.Fields(kv)
}

package t30

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"
)

// LogLevel уровни логирования
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

var logLevelNames = map[LogLevel]string{
	LogLevelDebug: "DEBUG",
	LogLevelInfo:  "INFO",
	LogLevelWarn:  "WARN",
	LogLevelError: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := logLevelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// Field поле структурированного лога
type Field struct {
	Key   string
	Value interface{}
}

// Helpers для создания полей
func String(key, value string) Field                 { return Field{key, value} }
func Int(key string, value int) Field                { return Field{key, value} }
func Uint16(key string, value uint16) Field          { return Field{key, value} }
func Bool(key string, value bool) Field              { return Field{key, value} }
func Duration(key string, value time.Duration) Field { return Field{key, value} }
func Err(err error) Field                            { return Field{"error", err} }

// StructuredLogger интерфейс структурированного логирования.
// Логгер передается в конструктор сессии: глобального состояния
// логирования в пакете нет, сессии тестируются независимо.
type StructuredLogger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// WithFields возвращает логгер с постоянными полями
	WithFields(fields ...Field) StructuredLogger
}

// DefaultLogger простая реализация StructuredLogger поверх io.Writer
type DefaultLogger struct {
	mu     sync.Mutex
	out    io.Writer
	level  LogLevel
	fields []Field
}

// NewDefaultLogger создает логгер с выводом в w начиная с уровня level
func NewDefaultLogger(w io.Writer, level LogLevel) *DefaultLogger {
	if w == nil {
		w = os.Stderr
	}
	return &DefaultLogger{out: w, level: level}
}

func (l *DefaultLogger) log(level LogLevel, msg string, fields []Field) {
	if level < l.level {
		return
	}
	all := make([]Field, 0, len(l.fields)+len(fields))
	all = append(all, l.fields...)
	all = append(all, fields...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Key < all[j].Key })

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "%s [%s] %s", time.Now().Format(time.RFC3339Nano), level, msg)
	for _, f := range all {
		fmt.Fprintf(l.out, " %s=%v", f.Key, f.Value)
	}
	fmt.Fprintln(l.out)
}

func (l *DefaultLogger) Debug(msg string, fields ...Field) { l.log(LogLevelDebug, msg, fields) }
func (l *DefaultLogger) Info(msg string, fields ...Field)  { l.log(LogLevelInfo, msg, fields) }
func (l *DefaultLogger) Warn(msg string, fields ...Field)  { l.log(LogLevelWarn, msg, fields) }
func (l *DefaultLogger) Error(msg string, fields ...Field) { l.log(LogLevelError, msg, fields) }

// WithFields возвращает копию логгера с дополнительными постоянными полями
func (l *DefaultLogger) WithFields(fields ...Field) StructuredLogger {
	child := &DefaultLogger{out: l.out, level: l.level}
	child.fields = append(append([]Field(nil), l.fields...), fields...)
	return child
}

// NopLogger логгер, отбрасывающий все записи
type NopLogger struct{}

func (NopLogger) Debug(string, ...Field)              {}
func (NopLogger) Info(string, ...Field)               {}
func (NopLogger) Warn(string, ...Field)               {}
func (NopLogger) Error(string, ...Field)              {}
func (n NopLogger) WithFields(...Field) StructuredLogger { return n }

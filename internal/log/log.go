// Package log provides the small key/value logger used across gocell.
package log

import (
	"fmt"
	"log"
	"strings"
)

// Level filters which messages a logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelError
	LevelCrit
)

// ParseLevel maps a config string to a Level. Unknown names default to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "error":
		return LevelError
	case "crit", "critical":
		return LevelCrit
	default:
		return LevelInfo
	}
}

// Root is the process logger. Engines built without an explicit logger write to it; it
// discards everything until the command line sets it up.
var Root Logger = Discard{}

// Logger is logger interface. The variadic arguments are key value pairs. The key must be a
// string and the value should have a meaningful string representations.
type Logger interface {
	Debug(string, ...interface{})
	Info(string, ...interface{})
	Error(string, ...interface{})
	Crit(string, ...interface{})
	With(...interface{}) Logger
}

// Default writes through the standard library logger.
type Default struct {
	Level Level
	Tags  []interface{}
}

func (l *Default) Debug(m string, s ...interface{}) { l.emit(LevelDebug, "DEB ", m, s) }
func (l *Default) Info(m string, s ...interface{})  { l.emit(LevelInfo, "INF ", m, s) }
func (l *Default) Error(m string, s ...interface{}) { l.emit(LevelError, "ERR ", m, s) }
func (l *Default) Crit(m string, s ...interface{})  { l.emit(LevelCrit, "CRI ", m, s) }
func (l *Default) With(tags ...interface{}) Logger {
	return l.with(tags)
}

func (l *Default) emit(lvl Level, prefix, m string, s []interface{}) {
	if lvl < l.Level {
		return
	}
	log.Print(tfmt(prefix, m, s, l.Tags))
}

func (l *Default) with(tags []interface{}) *Default {
	t := make([]interface{}, 0, len(tags)+len(l.Tags))
	t = append(t, tags...)
	t = append(t, l.Tags...)
	return &Default{Level: l.Level, Tags: t}
}

// Discard drops every message.
type Discard struct{}

func (Discard) Debug(string, ...interface{}) {}
func (Discard) Info(string, ...interface{})  {}
func (Discard) Error(string, ...interface{}) {}
func (Discard) Crit(string, ...interface{})  {}
func (d Discard) With(...interface{}) Logger { return d }

func tfmt(lvl, msg string, all ...[]interface{}) string {
	var b strings.Builder
	b.WriteString(lvl)
	b.WriteString(msg)
	for _, tags := range all {
		for i, v := range tags {
			if i%2 == 0 {
				b.WriteByte(' ')
			} else {
				b.WriteByte('=')
			}
			b.WriteString(fmt.Sprint(v))
		}
	}
	return b.String()
}

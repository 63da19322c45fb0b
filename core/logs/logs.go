// Package logs persists operator-facing log entries. Unlike slog output,
// these entries land in the application database so the web UI can show
// recent worker and provider activity.
package logs

import (
	"context"
	"runtime"
	"strings"
	"time"
)

// Levels mirror the stored representation.
const (
	LevelInfo    = "INFO"
	LevelWarning = "WARNING"
	LevelError   = "ERROR"
)

// Entry is a single persisted log record. Module and Function record the
// package and function that built the entry.
type Entry struct {
	Time      time.Time
	Level     string
	Logger    string // component name, e.g. "QueueWorker"
	Message   string
	Module    string
	Function  string
	Exception string // optional error detail
}

// Sink stores batches of entries.
type Sink interface {
	WriteEntries(ctx context.Context, entries []Entry) error
}

// Info builds an informational entry stamped with the current time.
func Info(logger, message string) Entry {
	e := Entry{Time: time.Now().UTC(), Level: LevelInfo, Logger: logger, Message: message}
	e.Module, e.Function = callSite()
	return e
}

// Warning builds a warning entry. The error may be nil.
func Warning(logger, message string, err error) Entry {
	e := Entry{Time: time.Now().UTC(), Level: LevelWarning, Logger: logger, Message: message}
	e.Module, e.Function = callSite()
	if err != nil {
		e.Exception = err.Error()
	}
	return e
}

// Error builds an error entry. The error may be nil.
func Error(logger, message string, err error) Entry {
	e := Entry{Time: time.Now().UTC(), Level: LevelError, Logger: logger, Message: message}
	e.Module, e.Function = callSite()
	if err != nil {
		e.Exception = err.Error()
	}
	return e
}

// callSite resolves the package path and function name of whoever called
// the entry builder, so stored records say where they came from.
func callSite() (module, function string) {
	pc, _, _, ok := runtime.Caller(2)
	if !ok {
		return "", ""
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "", ""
	}
	name := fn.Name() // e.g. "github.com/acme/app/media/handlers.(*scan).Handle"
	sep := strings.LastIndex(name, "/")
	dot := strings.Index(name[sep+1:], ".")
	if dot < 0 {
		return "", name
	}
	dot += sep + 1
	return name[:dot], name[dot+1:]
}

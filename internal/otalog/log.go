// Package otalog wires up the ambient logging stack shared by every
// component of the update runtime: a logrus logger rotated to disk through
// lumberjack, with a formatter that promotes a few well-known context
// fields so log lines stay greppable across components.
package otalog

import (
	"context"
	"io"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Source identifies which subsystem emitted a log entry.
type Source string

const (
	CatalogSource  Source = "CATALOG"
	LoaderSource   Source = "LOADER"
	EngineSource   Source = "ENGINE"
	RecoverySource Source = "RECOVERY"
)

type sourceKey struct{}
type updateIDKey struct{}

// WithSource attaches a Source to ctx for use by a contextual logrus entry.
func WithSource(ctx context.Context, source Source) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

// WithUpdateID attaches the update id under discussion to ctx.
func WithUpdateID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, updateIDKey{}, id)
}

// Init parses logLevel and routes output either to the console or, when
// logPath is set, to a rotated file managed by lumberjack.
func Init(logLevel string, logPath string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return err
	}

	if logPath != "" && logPath != "console" {
		log.SetOutput(io.Writer(&lumberjack.Logger{
			Filename:   filepath.ToSlash(logPath),
			MaxSize:    5, // MB
			MaxBackups: 10,
			MaxAge:     30, // days
			Compress:   true,
		}))
	}

	log.SetFormatter(&ContextFormatter{})
	log.SetLevel(level)
	return nil
}

// ContextFormatter promotes source/update-id context values into structured
// fields before delegating to the default text formatter.
type ContextFormatter struct {
	log.TextFormatter
}

func (f *ContextFormatter) Format(entry *log.Entry) ([]byte, error) {
	if entry.Context == nil {
		return f.TextFormatter.Format(entry)
	}

	if source, ok := entry.Context.Value(sourceKey{}).(Source); ok {
		entry.Data["component"] = string(source)
	}
	if id, ok := entry.Context.Value(updateIDKey{}).(string); ok {
		entry.Data["updateID"] = id
	}

	return f.TextFormatter.Format(entry)
}

// Entry returns a logrus entry pre-populated from ctx, for call sites that
// want `entry.Warnf(...)` without repeating WithContext everywhere.
func Entry(ctx context.Context) *log.Entry {
	return log.WithContext(ctx)
}

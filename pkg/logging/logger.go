package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mdobak/go-xerrors"
	slogmulti "github.com/samber/slog-multi"
)

// SecurityLogEntry is a security relevant event, such as a remote
// authority rejecting the relay's client credentials.
type SecurityLogEntry struct {
	Timestamp       time.Time `json:"timestamp"`
	Severity        string    `json:"severity"`
	Category        string    `json:"category"`
	Description     string    `json:"description"`
	Details         string    `json:"details,omitempty"`
	Source          string    `json:"source,omitempty"`
	OffenderAddress string    `json:"offender_address,omitempty"`
}

const (
	LevelTrace    = slog.Level(-8)
	LevelSecurity = slog.Level(16)

	SeverityLow    = "Low"
	SeverityMedium = "Medium"
	SeverityHigh   = "High"

	CategoryAuthentication  = "Authentication"
	CategoryNetworkSecurity = "Network Security"
	CategoryPolicyViolation = "Policy Violation"

	SourceConnector = "connector"
	SourceAuthority = "authority"
)

type Logger struct {
	logger *slog.Logger
}

func DefaultLogger() *Logger {
	return NewLogger(slog.LevelDebug, nil)
}

// Creates a new logger that writes JSON records to logFile. When the level
// is debug (or lower), records are also written to STDOUT in text format.
// A nil logFile discards the JSON output.
func NewLogger(level slog.Level, logFile io.Writer) *Logger {

	if logFile == nil {
		logFile = io.Discard
	}

	options := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceAttr,
	}
	logfileHandler := slog.NewJSONHandler(logFile, options)

	if level > slog.LevelDebug {
		return &Logger{logger: slog.New(logfileHandler)}
	}

	textHandler := slog.NewTextHandler(os.Stdout, options)
	return &Logger{
		logger: slog.New(slogmulti.Fanout(logfileHandler, textHandler)),
	}
}

// Returns a child logger that adds the provided attributes to every record
func (l *Logger) With(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...)}
}

// Returns a child logger tagged with the provided component name
func (l *Logger) Component(name string) *Logger {
	return l.With(slog.String("component", name))
}

func (l *Logger) Debug(message string, args ...any) {
	l.logger.Debug(message, args...)
}

func (l *Logger) Debugf(message string, args ...any) {
	l.logger.Debug(fmt.Sprintf(message, args...))
}

func (l *Logger) Info(message string, args ...any) {
	l.logger.Info(message, args...)
}

func (l *Logger) Infof(message string, args ...any) {
	l.logger.Info(fmt.Sprintf(message, args...))
}

func (l *Logger) Warn(message string, args ...any) {
	l.logger.Warn(message, args...)
}

func (l *Logger) Warnf(message string, args ...any) {
	l.logger.Warn(fmt.Sprintf(message, args...))
}

// Logs the error along with its stack trace
func (l *Logger) Error(err error, args ...any) {
	if l == nil || l.logger == nil {
		// Error occurred before the logger was
		// initialized
		slog.Error(err.Error(), args...)
		return
	}
	xerr := xerrors.New(err)
	l.logger.Error(err.Error(), append(args, slog.Any("error", xerr))...)
}

func (l *Logger) Errorf(message string, args ...any) {
	l.logger.Error(fmt.Sprintf(message, args...))
}

// Logs an error condition the caller is able to recover from.
// Nil errors are ignored.
func (l *Logger) MaybeError(err error, args ...any) {
	if err == nil {
		return
	}
	l.logger.Warn(err.Error(), args...)
}

func (l *Logger) Fatal(message string, args ...any) {
	l.logger.Error(message, args...)
	os.Exit(-1)
}

func (l *Logger) Fatalf(message string, args ...any) {
	l.Fatal(fmt.Sprintf(message, args...))
}

func (l *Logger) FatalError(err error) {
	l.Error(err)
	os.Exit(-1)
}

// Logs a security issue with standardized fields to faciliate
// processing security issues by external systems.
func (l *Logger) Security(issue SecurityLogEntry) {
	if issue.Timestamp.IsZero() {
		issue.Timestamp = time.Now()
	}
	l.logger.LogAttrs(
		context.TODO(),
		LevelSecurity,
		"security_log",
		slog.Time("timestamp", issue.Timestamp),
		slog.String("severity", issue.Severity),
		slog.String("category", issue.Category),
		slog.String("description", issue.Description),
		slog.String("details", issue.Details),
		slog.String("source", issue.Source),
		slog.String("offender_address", issue.OffenderAddress),
	)
}

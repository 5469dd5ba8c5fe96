// Package datastore persists identifications and the taxonomic hierarchy
// behind the engine's store contract.
package datastore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/identree-go/internal/errors"
	"github.com/tphakala/identree-go/internal/logging"
	"github.com/tphakala/identree-go/internal/observability/metrics"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Package-level logger for datastore operations
var (
	datastoreLogger   *slog.Logger
	datastoreLevelVar = new(slog.LevelVar)
	loggerCloseFunc   func() error
	loggerOnce        sync.Once

	defaultLogPath = "logs/datastore.log"
)

// InitializeLogger initializes the datastore logger with the specified log
// file path. Safe to call multiple times; initialization happens only once.
func InitializeLogger(logFilePath string) error {
	var initErr error

	loggerOnce.Do(func() {
		if logFilePath == "" {
			logFilePath = defaultLogPath
		}
		datastoreLevelVar.Set(slog.LevelInfo)

		var err error
		datastoreLogger, loggerCloseFunc, err = logging.NewFileLogger(logFilePath, "datastore", datastoreLevelVar)
		if err != nil {
			datastoreLogger = slog.Default().With("service", "datastore")
			loggerCloseFunc = func() error { return nil }
			initErr = errors.Newf("datastore: failed to initialize file logger: %v", err).
				Component("datastore").
				Category(errors.CategoryConfiguration).
				Context("log_file", logFilePath).
				Build()
		}
	})

	return initErr
}

// getLogger returns the logger, initializing it with the default path if
// needed.
func getLogger() *slog.Logger {
	if datastoreLogger == nil {
		_ = InitializeLogger(defaultLogPath)
	}
	return datastoreLogger
}

// CloseLogger closes the datastore logger.
func CloseLogger() error {
	if loggerCloseFunc != nil {
		return loggerCloseFunc()
	}
	return nil
}

// SetLogLevel sets the log level for the datastore logger.
func SetLogLevel(level slog.Level) {
	datastoreLevelVar.Set(level)
}

// GormLogger implements GORM's logger interface with structured logging
// and metrics.
type GormLogger struct {
	SlowThreshold time.Duration
	LogLevel      gormlogger.LogLevel
	metrics       *metrics.DatastoreMetrics
}

// NewGormLogger creates a new GORM logger instance.
func NewGormLogger(slowThreshold time.Duration, logLevel gormlogger.LogLevel, m *metrics.DatastoreMetrics) *GormLogger {
	return &GormLogger{
		SlowThreshold: slowThreshold,
		LogLevel:      logLevel,
		metrics:       m,
	}
}

// LogMode implements logger.Interface
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

// Info implements logger.Interface
func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Info {
		getLogger().InfoContext(ctx, fmt.Sprintf(msg, data...))
	}
}

// Warn implements logger.Interface
func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Warn {
		getLogger().WarnContext(ctx, fmt.Sprintf(msg, data...))
	}
}

// Error implements logger.Interface
func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Error {
		getLogger().ErrorContext(ctx, "GORM error",
			"msg", fmt.Sprintf(msg, data...))
		l.metrics.RecordError("gorm_internal", "gorm_error")
	}
}

// Trace implements logger.Interface
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.LogLevel <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	operation := parseSQLOperation(sql)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		getLogger().ErrorContext(ctx, "Database query failed",
			"error", err,
			"sql", sql,
			"duration", elapsed,
			"rows_affected", rows)
		l.metrics.RecordOperation(operation, "error", elapsed.Seconds())
		l.metrics.RecordError(operation, categorizeError(err))

	case elapsed > l.SlowThreshold && l.SlowThreshold != 0:
		getLogger().WarnContext(ctx, "Slow query detected",
			"sql", sql,
			"duration", elapsed,
			"rows_affected", rows,
			"threshold", l.SlowThreshold)
		l.metrics.RecordOperation(operation, "success", elapsed.Seconds())

	case l.LogLevel >= gormlogger.Info:
		getLogger().DebugContext(ctx, "Query executed",
			"sql", sql,
			"duration", elapsed,
			"rows_affected", rows)
		l.metrics.RecordOperation(operation, "success", elapsed.Seconds())
	}
}

// parseSQLOperation extracts the leading SQL verb for metric labels.
func parseSQLOperation(sql string) string {
	fields := strings.Fields(strings.TrimSpace(sql))
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToLower(fields[0])
}

// categorizeError maps a database error to a coarse metric label.
func categorizeError(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case isUniqueViolation(err):
		return "unique_violation"
	case strings.Contains(msg, "locked") || strings.Contains(msg, "lock wait"):
		return "lock_contention"
	case strings.Contains(msg, "connection"):
		return "connection"
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(msg, "timeout"):
		return "timeout"
	default:
		return "other"
	}
}

// isUniqueViolation reports whether the error is a uniqueness constraint
// violation. SQLite reports "UNIQUE constraint failed", MySQL reports
// "Duplicate entry" (error 1062).
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate entry")
}

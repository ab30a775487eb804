// internal/logger/styled.go
package logger

import (
	"log/slog"

	"github.com/thushan/olla/internal/core/domain"
	"github.com/thushan/olla/internal/util"
	"github.com/thushan/olla/theme"
)

// LogContext carries the extra attributes a *WithContext call wants
// written to the log file but not necessarily echoed to the terminal.
type LogContext struct {
	UserArgs     []any
	DetailedArgs []any
}

// StyledLogger is a theme-aware logger used throughout the gateway as
// the per-request logger threaded down through the engine components.
// PrettyStyledLogger renders with pterm styling for an interactive
// terminal; PlainStyledLogger renders unstyled for redirected output
// or CI logs.
type StyledLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	InfoWithCount(msg string, count int, args ...any)
	InfoWithEndpoint(msg string, endpoint string, args ...any)
	InfoWithHealthCheck(msg string, endpoint string, args ...any)
	InfoWithNumbers(msg string, numbers ...int64)
	WarnWithEndpoint(msg string, endpoint string, args ...any)
	ErrorWithEndpoint(msg string, endpoint string, args ...any)
	InfoHealthy(msg string, endpoint string, args ...any)
	InfoHealthStatus(msg string, name string, status domain.EndpointStatus, args ...any)
	InfoConfigChange(oldName, newName string)

	InfoWithContext(msg string, endpoint string, ctx LogContext)
	WarnWithContext(msg string, endpoint string, ctx LogContext)
	ErrorWithContext(msg string, endpoint string, ctx LogContext)

	GetUnderlying() *slog.Logger
	WithRequestID(requestID string) StyledLogger
	WithAttrs(attrs ...slog.Attr) StyledLogger
	With(args ...any) StyledLogger
}

// NewWithTheme creates both a regular logger and a styled logger. The
// styled logger renders with pterm when the terminal supports colour,
// and falls back to a plain unstyled renderer otherwise (redirected
// output, CI, Windows consoles without ANSI support).
func NewWithTheme(cfg *Config) (*slog.Logger, StyledLogger, func(), error) {
	baseLogger, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	var styled StyledLogger
	if util.ShouldUseColors() {
		styled = NewPrettyStyledLogger(baseLogger, theme.GetTheme(cfg.Theme))
	} else {
		styled = NewPlainStyledLogger(baseLogger)
	}

	return baseLogger, styled, cleanup, nil
}

// toInterfaceSlice converts a string slice to an interface slice for
// slog's variadic args.
func toInterfaceSlice(strs []string) []interface{} {
	result := make([]interface{}, len(strs))
	for i, s := range strs {
		result[i] = s
	}
	return result
}

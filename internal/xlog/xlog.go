// Package xlog wires the process-wide slog handlers used by every long-lived
// component in this module (FSMs, registry, router, Core pipeline, reference
// transport). Components never import a concrete handler themselves: they
// accept a *slog.Logger via their Options struct and fall back to Default.
package xlog

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/golang-cz/devslog"
	console "github.com/phsym/console-slog"
	slogformatter "github.com/samber/slog-formatter"
)

var newHandler = slogformatter.NewFormatterHandler(
	slogformatter.ErrorFormatter("error"),
	slogformatter.FormatByType(func(c net.PacketConn) slog.Value {
		return slog.GroupValue(
			slog.String("type", fmt.Sprintf("%T", c)),
			slog.Any("local_addr", c.LocalAddr()),
		)
	}),
	slogformatter.FormatByType(func(c net.Conn) slog.Value {
		return slog.GroupValue(
			slog.String("type", fmt.Sprintf("%T", c)),
			slog.Any("local_addr", c.LocalAddr()),
			slog.Any("remote_addr", c.RemoteAddr()),
		)
	}),
)

// Console is the production-shaped default: single-line colored console
// output via console-slog.
var Console = slog.New(newHandler(
	console.NewHandler(os.Stdout, &console.HandlerOptions{
		Level:      slog.LevelInfo,
		TimeFormat: time.RFC3339Nano,
	}),
))

// Dev is a verbose, human-friendly multi-line handler via devslog, intended
// for local debugging of FSM transitions and router dispatch decisions.
var Dev = slog.New(newHandler(
	devslog.NewHandler(os.Stdout, &devslog.Options{
		HandlerOptions: &slog.HandlerOptions{Level: slog.LevelDebug},
		SortKeys:       true,
		TimeFormat:     time.RFC3339Nano,
	}),
))

type noopHandler struct{}

func (noopHandler) Enabled(context.Context, slog.Level) bool   { return false }
func (noopHandler) Handle(context.Context, slog.Record) error  { return nil }
func (h noopHandler) WithAttrs([]slog.Attr) slog.Handler       { return h }
func (h noopHandler) WithGroup(string) slog.Handler            { return h }

// Noop discards everything.
var Noop = slog.New(noopHandler{})

var def = Console

// Default returns the process-wide default logger.
func Default() *slog.Logger { return def }

// SetDefault overrides the process-wide default logger, e.g. to Dev or Noop.
func SetDefault(l *slog.Logger) { def = l }

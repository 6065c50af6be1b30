package service

import (
	"context"

	"github.com/sifan077/TempLogin/internal/app/model"
)

// TokenCodec mints and validates link tokens.
type TokenCodec interface {
	Generate() (string, error)
	Validate(raw string) (string, error)
}

// Notifier receives lifecycle events for optional delivery (email, account cleanup).
// Calls are fire-and-forget: implementations report their own failures.
type Notifier interface {
	LinkIssued(ctx context.Context, link model.Link)
	LinkExpired(ctx context.Context, link model.Link, reason string)
}

// Metrics receives service-level counters.
type Metrics interface {
	Presentation(outcome, reason string)
	LinkIssued()
	LinksSwept(n int)
	AccessLogFailure()
}

type nopMetrics struct{}

func (nopMetrics) Presentation(string, string) {}
func (nopMetrics) LinkIssued()                  {}
func (nopMetrics) LinksSwept(int)               {}
func (nopMetrics) AccessLogFailure()            {}

type nopNotifier struct{}

func (nopNotifier) LinkIssued(context.Context, model.Link)          {}
func (nopNotifier) LinkExpired(context.Context, model.Link, string) {}

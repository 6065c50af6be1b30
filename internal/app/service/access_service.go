package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sifan077/TempLogin/internal/app/access"
	"github.com/sifan077/TempLogin/internal/app/model"
	"github.com/sifan077/TempLogin/internal/app/repository"
	"github.com/sifan077/TempLogin/internal/app/token"
)

// RequesterContext describes who presented a token.
type RequesterContext struct {
	IP        string
	UserAgent string
	RequestID string
}

// Presentation is the outcome of presenting a token. A denial is a value, not an error.
type Presentation struct {
	Granted         bool
	SubjectIdentity string
	LinkID          string
	Reason          access.Reason
}

// AccessService is the contract the login boundary talks to.
type AccessService interface {
	// PresentToken validates the token, atomically consumes one access on grant and
	// records the attempt. Storage failures are returned as errors, never as denials.
	PresentToken(ctx context.Context, raw string, now time.Time, requester RequesterContext) (Presentation, error)
	// GetDisplayStatus reports the link status without consuming an access.
	GetDisplayStatus(ctx context.Context, raw string, now time.Time) (access.DisplayStatus, error)
}

// AccessServiceDeps groups dependencies of the access service.
type AccessServiceDeps struct {
	Links     repository.LinkRepository
	Codec     TokenCodec
	AccessLog AccessLog
	Metrics   Metrics
	Logger    *zap.Logger
}

type accessService struct {
	links     repository.LinkRepository
	codec     TokenCodec
	accessLog AccessLog
	metrics   Metrics
	logger    *zap.Logger
}

// NewAccessService wires the token presentation flow.
func NewAccessService(deps AccessServiceDeps) AccessService {
	s := &accessService{
		links:     deps.Links,
		codec:     deps.Codec,
		accessLog: deps.AccessLog,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

func (s *accessService) PresentToken(ctx context.Context, raw string, now time.Time, requester RequesterContext) (Presentation, error) {
	tok, err := s.codec.Validate(raw)
	if err != nil {
		return s.deny(ctx, "", access.ReasonInvalidFormat, now, requester), nil
	}

	result, err := s.links.TryConsume(ctx, tok, now)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return s.deny(ctx, "", access.ReasonNotFound, now, requester), nil
		}
		s.logger.Error("token presentation failed",
			zap.String("token", token.Redact(tok)),
			zap.String("request_id", requester.RequestID),
			zap.Error(err),
		)
		return Presentation{}, fmt.Errorf("present token: %w", err)
	}

	if !result.Verdict.Granted {
		return s.deny(ctx, result.Link.ID, result.Verdict.Reason, now, requester), nil
	}

	s.record(ctx, result.Link.ID, model.OutcomeGranted, access.ReasonNone, now, requester)
	s.metrics.Presentation(model.OutcomeGranted, "")
	s.logger.Info("login link granted",
		zap.String("link_id", result.Link.ID),
		zap.String("subject", result.Link.SubjectIdentity),
		zap.Int("access_count", result.Link.AccessCount+1),
		zap.String("request_id", requester.RequestID),
	)

	return Presentation{
		Granted:         true,
		SubjectIdentity: result.Link.SubjectIdentity,
		LinkID:          result.Link.ID,
	}, nil
}

func (s *accessService) deny(ctx context.Context, linkID string, reason access.Reason, now time.Time, requester RequesterContext) Presentation {
	s.record(ctx, linkID, model.OutcomeDenied, reason, now, requester)
	s.metrics.Presentation(model.OutcomeDenied, string(reason))
	s.logger.Info("login link denied",
		zap.String("link_id", linkID),
		zap.String("reason", string(reason)),
		zap.String("request_id", requester.RequestID),
	)
	return Presentation{LinkID: linkID, Reason: reason}
}

// record writes the access log entry. It survives request cancellation and never
// changes the outcome of the presentation.
func (s *accessService) record(ctx context.Context, linkID, outcome string, reason access.Reason, now time.Time, requester RequesterContext) {
	if s.accessLog == nil {
		return
	}

	entry := model.AccessLogEntry{
		ID:          uuid.NewString(),
		LinkID:      linkID,
		Outcome:     outcome,
		Reason:      string(reason),
		RequesterIP: requester.IP,
		UserAgent:   requester.UserAgent,
		RequestID:   requester.RequestID,
		Timestamp:   now,
	}

	if err := s.accessLog.Record(context.WithoutCancel(ctx), entry); err != nil {
		s.metrics.AccessLogFailure()
		s.logger.Warn("failed to record access log entry",
			zap.String("link_id", linkID),
			zap.String("outcome", outcome),
			zap.Error(err),
		)
	}
}

func (s *accessService) GetDisplayStatus(ctx context.Context, raw string, now time.Time) (access.DisplayStatus, error) {
	tok, err := s.codec.Validate(raw)
	if err != nil {
		return access.StatusNotFound, nil
	}

	link, err := s.links.GetByToken(ctx, tok)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return access.StatusNotFound, nil
		}
		return "", fmt.Errorf("display status: %w", err)
	}
	return access.StatusOf(*link, now), nil
}

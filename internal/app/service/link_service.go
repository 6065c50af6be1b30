package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sifan077/TempLogin/internal/app/access"
	"github.com/sifan077/TempLogin/internal/app/model"
	"github.com/sifan077/TempLogin/internal/app/repository"
)

const (
	// maxIssueAttempts bounds token regeneration after storage reports a collision.
	maxIssueAttempts = 3

	defaultSweepBatchSize = 100

	// Column widths of links.subject_identity and links.note, in characters.
	maxSubjectLength = 255
	maxNoteLength    = 255

	// ReasonDeleted marks teardown events caused by an explicit delete.
	ReasonDeleted = "deleted"
)

// LinkService defines lifecycle operations on login links.
type LinkService interface {
	IssueLink(ctx context.Context, input IssueLinkInput, now time.Time) (*model.Link, error)
	ExtendLink(ctx context.Context, id string, additional time.Duration) (*model.Link, error)
	Deactivate(ctx context.Context, id string) error
	Reactivate(ctx context.Context, id string) error
	DeleteLink(ctx context.Context, id string) error
	GetLink(ctx context.Context, id string) (*model.Link, error)
	ListLinks(ctx context.Context, filter repository.ListFilter) ([]model.Link, error)
	// SweepExpired reports links past expiry or out of accesses and emits one
	// teardown event per link. It returns how many pending links the query yielded.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// IssuanceDefaults fill in fields an issue request leaves out.
type IssuanceDefaults struct {
	Duration    time.Duration
	MaxAccesses int
}

// IssueLinkInput captures data required to issue a link. ExpiresAt wins over TTL;
// when both are empty the default duration applies.
type IssueLinkInput struct {
	SubjectIdentity string
	ExpiresAt       *time.Time
	TTL             time.Duration
	MaxAccesses     *int
	Note            string
}

// LinkServiceDeps groups dependencies of the link service.
type LinkServiceDeps struct {
	Links          repository.LinkRepository
	Codec          TokenCodec
	Notifier       Notifier
	Metrics        Metrics
	Logger         *zap.Logger
	Defaults       IssuanceDefaults
	SweepBatchSize int
	// NewID overrides link id generation. Defaults to UUIDv7.
	NewID func() (string, error)
}

type linkService struct {
	links     repository.LinkRepository
	codec     TokenCodec
	notifier  Notifier
	metrics   Metrics
	logger    *zap.Logger
	defaults  IssuanceDefaults
	batchSize int
	newID     func() (string, error)
}

// NewLinkService returns a service implementation backed by the given repository.
func NewLinkService(deps LinkServiceDeps) LinkService {
	s := &linkService{
		links:     deps.Links,
		codec:     deps.Codec,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		defaults:  deps.Defaults,
		batchSize: deps.SweepBatchSize,
		newID:     deps.NewID,
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultSweepBatchSize
	}
	if s.newID == nil {
		s.newID = newLinkID
	}
	return s
}

func newLinkID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (s *linkService) IssueLink(ctx context.Context, input IssueLinkInput, now time.Time) (*model.Link, error) {
	subject := strings.TrimSpace(input.SubjectIdentity)
	if subject == "" || utf8.RuneCountInString(subject) > maxSubjectLength {
		return nil, ErrInvalidSubject
	}
	note := strings.TrimSpace(input.Note)
	if utf8.RuneCountInString(note) > maxNoteLength {
		return nil, ErrInvalidNote
	}

	expiresAt := now.Add(s.defaults.Duration)
	switch {
	case input.ExpiresAt != nil:
		expiresAt = *input.ExpiresAt
	case input.TTL != 0:
		expiresAt = now.Add(input.TTL)
	}
	if !expiresAt.After(now) {
		return nil, ErrInvalidExpiry
	}

	maxAccesses := s.defaults.MaxAccesses
	if input.MaxAccesses != nil {
		maxAccesses = *input.MaxAccesses
	}
	if maxAccesses < 0 {
		return nil, ErrInvalidMaxAccesses
	}

	id, err := s.newID()
	if err != nil {
		return nil, fmt.Errorf("issue link: new id: %w", err)
	}

	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		tok, err := s.codec.Generate()
		if err != nil {
			return nil, fmt.Errorf("issue link: %w", err)
		}

		link := &model.Link{
			ID:              id,
			Token:           tok,
			SubjectIdentity: subject,
			Note:            note,
			MaxAccesses:     maxAccesses,
			IsActive:        true,
			ExpiresAt:       expiresAt,
			CreatedAt:       now,
		}

		err = s.links.Create(ctx, link)
		if err == nil {
			s.metrics.LinkIssued()
			s.notifier.LinkIssued(ctx, *link)
			s.logger.Info("link issued",
				zap.String("link_id", link.ID),
				zap.String("subject", link.SubjectIdentity),
				zap.Time("expires_at", link.ExpiresAt),
				zap.Int("max_accesses", link.MaxAccesses),
			)
			return link, nil
		}
		if !errors.Is(err, repository.ErrDuplicateToken) {
			return nil, fmt.Errorf("issue link: %w", err)
		}

		s.logger.Warn("token collision, regenerating", zap.Int("attempt", attempt))
	}

	s.logger.Error("token generation exhausted retries", zap.Int("attempts", maxIssueAttempts))
	return nil, ErrExhaustedRetries
}

func (s *linkService) ExtendLink(ctx context.Context, id string, additional time.Duration) (*model.Link, error) {
	if additional <= 0 {
		return nil, ErrInvalidExtension
	}

	link, err := s.links.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load link: %w", err)
	}

	newExpiresAt := link.ExpiresAt.Add(additional)
	if err := s.links.ExtendExpiry(ctx, id, newExpiresAt); err != nil {
		return nil, fmt.Errorf("extend link: %w", err)
	}
	link.ExpiresAt = newExpiresAt

	s.logger.Info("link extended",
		zap.String("link_id", id),
		zap.Duration("additional", additional),
		zap.Time("expires_at", newExpiresAt),
	)
	return link, nil
}

func (s *linkService) Deactivate(ctx context.Context, id string) error {
	return s.setActive(ctx, id, false)
}

// Reactivate only lifts the manual gate. Expiry and the access ceiling still apply.
func (s *linkService) Reactivate(ctx context.Context, id string) error {
	return s.setActive(ctx, id, true)
}

func (s *linkService) setActive(ctx context.Context, id string, active bool) error {
	if err := s.links.SetActive(ctx, id, active); err != nil {
		return fmt.Errorf("set link active: %w", err)
	}
	s.logger.Info("link active flag changed", zap.String("link_id", id), zap.Bool("active", active))
	return nil
}

func (s *linkService) DeleteLink(ctx context.Context, id string) error {
	link, err := s.links.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load link: %w", err)
	}
	if err := s.links.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete link: %w", err)
	}

	s.notifier.LinkExpired(ctx, *link, ReasonDeleted)
	s.logger.Info("link deleted", zap.String("link_id", id), zap.String("subject", link.SubjectIdentity))
	return nil
}

func (s *linkService) GetLink(ctx context.Context, id string) (*model.Link, error) {
	link, err := s.links.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}
	return link, nil
}

func (s *linkService) ListLinks(ctx context.Context, filter repository.ListFilter) ([]model.Link, error) {
	links, err := s.links.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return links, nil
}

func (s *linkService) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	count := 0
	err := s.links.ListExpiredBefore(ctx, now, s.batchSize, func(batch []model.Link) error {
		for _, link := range batch {
			count++
			s.teardownLink(ctx, link, now)
		}
		return ctx.Err()
	})
	s.metrics.LinksSwept(count)
	if err != nil {
		return count, fmt.Errorf("sweep expired links: %w", err)
	}
	return count, nil
}

// teardownLink claims the link's teardown marker and emits the expiry event only
// when this sweep won the claim. An extension that makes the link usable again
// clears the marker.
func (s *linkService) teardownLink(ctx context.Context, link model.Link, now time.Time) {
	reason := string(access.ReasonMaxedOut)
	if !link.ExpiresAt.After(now) {
		reason = string(access.ReasonExpired)
	}

	claimed, err := s.links.MarkTornDown(ctx, link.ID, now)
	if err != nil {
		s.logger.Warn("failed to mark link torn down, will retry next sweep",
			zap.String("link_id", link.ID), zap.Error(err))
		return
	}
	if !claimed {
		return
	}

	s.notifier.LinkExpired(ctx, link, reason)
	s.logger.Debug("link torn down", zap.String("link_id", link.ID), zap.String("reason", reason))
}

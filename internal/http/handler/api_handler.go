package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/sifan077/TempLogin/internal/app/access"
	"github.com/sifan077/TempLogin/internal/app/model"
	"github.com/sifan077/TempLogin/internal/app/repository"
	"github.com/sifan077/TempLogin/internal/app/service"
)

const maxExtendSeconds = 10 * 365 * 24 * 60 * 60

// APIDeps groups dependencies required by API handlers.
type APIDeps struct {
	Logger      *zap.Logger
	LinkService service.LinkService
	AccessLogs  repository.AccessLogRepository
	Now         func() time.Time
}

// APIHandler implements the admin API endpoints.
type APIHandler struct {
	logger      *zap.Logger
	linkService service.LinkService
	accessLogs  repository.AccessLogRepository
	now         func() time.Time
}

// NewAPIHandler creates an API handler with the provided dependencies.
func NewAPIHandler(deps APIDeps) *APIHandler {
	h := &APIHandler{
		logger:      deps.Logger,
		linkService: deps.LinkService,
		accessLogs:  deps.AccessLogs,
		now:         deps.Now,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Register wires API routes onto the provided router behind the given guards.
func (h *APIHandler) Register(router fiber.Router, guards ...fiber.Handler) {
	links := router.Group("/api/links", guards...)
	{
		links.Post("/", h.IssueLink)
		links.Get("/", h.ListLinks)
		links.Get("/:id", h.GetLink)
		links.Post("/:id/extend", h.ExtendLink)
		links.Post("/:id/deactivate", h.DeactivateLink)
		links.Post("/:id/reactivate", h.ReactivateLink)
		links.Delete("/:id", h.DeleteLink)
		links.Get("/:id/access-log", h.AccessLog)
	}
}

// IssueLinkRequest represents the request body for issuing a link.
type IssueLinkRequest struct {
	SubjectIdentity string     `json:"subject_identity"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	TTLSeconds      int64      `json:"ttl_seconds,omitempty"`
	MaxAccesses     *int       `json:"max_accesses,omitempty"`
	Note            string     `json:"note,omitempty"`
}

// LinkResponse is the admin view of a link. It never carries the token.
type LinkResponse struct {
	ID                string               `json:"id"`
	SubjectIdentity   string               `json:"subject_identity"`
	Note              string               `json:"note,omitempty"`
	Status            access.DisplayStatus `json:"status"`
	IsActive          bool                 `json:"is_active"`
	MaxAccesses       int                  `json:"max_accesses"`
	AccessCount       int                  `json:"access_count"`
	RemainingAccesses int                  `json:"remaining_accesses"`
	ExpiresAt         time.Time            `json:"expires_at"`
	LastAccessedAt    *time.Time           `json:"last_accessed_at"`
	CreatedAt         time.Time            `json:"created_at"`
}

// IssueLinkResponse is returned once, on issue. It is the only response with the token.
type IssueLinkResponse struct {
	LinkResponse
	Token     string `json:"token"`
	LoginPath string `json:"login_path"`
}

// ExtendLinkRequest represents the request body for extending a link.
type ExtendLinkRequest struct {
	Seconds int64 `json:"seconds"`
}

func (h *APIHandler) toResponse(link model.Link) LinkResponse {
	return LinkResponse{
		ID:                link.ID,
		SubjectIdentity:   link.SubjectIdentity,
		Note:              link.Note,
		Status:            access.StatusOf(link, h.now()),
		IsActive:          link.IsActive,
		MaxAccesses:       link.MaxAccesses,
		AccessCount:       link.AccessCount,
		RemainingAccesses: access.RemainingAccesses(link),
		ExpiresAt:         link.ExpiresAt,
		LastAccessedAt:    link.LastAccessedAt,
		CreatedAt:         link.CreatedAt,
	}
}

// IssueLink handles POST /api/links
func (h *APIHandler) IssueLink(c *fiber.Ctx) error {
	var req IssueLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.TTLSeconds < 0 || req.TTLSeconds > maxExtendSeconds {
		return errorJSON(c, fiber.StatusBadRequest, "ttl_seconds is out of range")
	}

	link, err := h.linkService.IssueLink(requestContext(c), service.IssueLinkInput{
		SubjectIdentity: req.SubjectIdentity,
		ExpiresAt:       req.ExpiresAt,
		TTL:             time.Duration(req.TTLSeconds) * time.Second,
		MaxAccesses:     req.MaxAccesses,
		Note:            req.Note,
	}, h.now())
	if err != nil {
		return writeError(c, h.logger, "failed to issue link", err)
	}

	return c.Status(fiber.StatusCreated).JSON(IssueLinkResponse{
		LinkResponse: h.toResponse(*link),
		Token:        link.Token,
		LoginPath:    "/login/" + link.Token,
	})
}

// ListLinks handles GET /api/links
func (h *APIHandler) ListLinks(c *fiber.Ctx) error {
	filter := repository.ListFilter{
		SubjectIdentity: c.Query("subject"),
		Now:             h.now(),
		Limit:           c.QueryInt("limit", 20),
		Offset:          c.QueryInt("offset", 0),
	}
	if raw := c.Query("status"); raw != "" {
		status, ok := access.ParseStatus(raw)
		if !ok {
			return errorJSON(c, fiber.StatusBadRequest, "status must be one of: active, expired, deactivated, maxed_out")
		}
		filter.Status = status
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	links, err := h.linkService.ListLinks(requestContext(c), filter)
	if err != nil {
		return writeError(c, h.logger, "failed to list links", err)
	}

	response := make([]LinkResponse, len(links))
	for i, link := range links {
		response[i] = h.toResponse(link)
	}

	return c.JSON(fiber.Map{
		"links":  response,
		"limit":  filter.Limit,
		"offset": filter.Offset,
		"count":  len(response),
	})
}

// GetLink handles GET /api/links/:id
func (h *APIHandler) GetLink(c *fiber.Ctx) error {
	link, err := h.linkService.GetLink(requestContext(c), c.Params("id"))
	if err != nil {
		return writeError(c, h.logger, "failed to get link", err)
	}
	return c.JSON(h.toResponse(*link))
}

// ExtendLink handles POST /api/links/:id/extend
func (h *APIHandler) ExtendLink(c *fiber.Ctx) error {
	var req ExtendLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Seconds > maxExtendSeconds || req.Seconds < -maxExtendSeconds {
		return errorJSON(c, fiber.StatusBadRequest, "seconds is out of range")
	}

	link, err := h.linkService.ExtendLink(requestContext(c), c.Params("id"), time.Duration(req.Seconds)*time.Second)
	if err != nil {
		return writeError(c, h.logger, "failed to extend link", err)
	}
	return c.JSON(h.toResponse(*link))
}

// DeactivateLink handles POST /api/links/:id/deactivate
func (h *APIHandler) DeactivateLink(c *fiber.Ctx) error {
	return h.setActive(c, false)
}

// ReactivateLink handles POST /api/links/:id/reactivate
func (h *APIHandler) ReactivateLink(c *fiber.Ctx) error {
	return h.setActive(c, true)
}

func (h *APIHandler) setActive(c *fiber.Ctx, active bool) error {
	ctx := requestContext(c)
	id := c.Params("id")

	var err error
	if active {
		err = h.linkService.Reactivate(ctx, id)
	} else {
		err = h.linkService.Deactivate(ctx, id)
	}
	if err != nil {
		return writeError(c, h.logger, "failed to change link state", err)
	}

	link, err := h.linkService.GetLink(ctx, id)
	if err != nil {
		return writeError(c, h.logger, "failed to get link", err)
	}
	return c.JSON(h.toResponse(*link))
}

// DeleteLink handles DELETE /api/links/:id
func (h *APIHandler) DeleteLink(c *fiber.Ctx) error {
	if err := h.linkService.DeleteLink(requestContext(c), c.Params("id")); err != nil {
		return writeError(c, h.logger, "failed to delete link", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AccessLog handles GET /api/links/:id/access-log
func (h *APIHandler) AccessLog(c *fiber.Ctx) error {
	ctx := requestContext(c)
	id := c.Params("id")

	if _, err := h.linkService.GetLink(ctx, id); err != nil {
		return writeError(c, h.logger, "failed to get link", err)
	}

	entries, err := h.accessLogs.ListByLink(ctx, id, c.QueryInt("limit", 50))
	if err != nil {
		return writeError(c, h.logger, "failed to list access log", err)
	}

	return c.JSON(fiber.Map{
		"entries": entries,
		"count":   len(entries),
	})
}

package handler

import (
	"errors"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/sifan077/TempLogin/internal/app/access"
	"github.com/sifan077/TempLogin/internal/app/service"
	"github.com/sifan077/TempLogin/internal/app/token"
	"github.com/sifan077/TempLogin/internal/http/middleware"
	httpUtil "github.com/sifan077/TempLogin/internal/http/util"
	"github.com/sifan077/TempLogin/internal/http/view"
)

// AuthSubjectHeader carries the granted subject to an upstream identity proxy.
const AuthSubjectHeader = "X-Auth-Subject"

// SessionIssuer turns a granted presentation into a session for the subject.
type SessionIssuer func(c *fiber.Ctx, p service.Presentation) error

// HeaderSessionIssuer answers with the subject in a header and a JSON body, for
// deployments where a fronting proxy establishes the session.
func HeaderSessionIssuer(c *fiber.Ctx, p service.Presentation) error {
	c.Set(AuthSubjectHeader, p.SubjectIdentity)
	return c.JSON(fiber.Map{
		"granted": true,
		"subject": p.SubjectIdentity,
		"link_id": p.LinkID,
	})
}

// LoginDeps groups dependencies required by login handlers.
type LoginDeps struct {
	Logger   *zap.Logger
	Access   service.AccessService
	Signer   *httpUtil.ConfirmSigner
	Sessions SessionIssuer
	Now      func() time.Time
}

// LoginHandler serves the status page and the confirm step of a login link.
type LoginHandler struct {
	logger   *zap.Logger
	access   service.AccessService
	signer   *httpUtil.ConfirmSigner
	sessions SessionIssuer
	now      func() time.Time
}

// NewLoginHandler creates a login handler with the provided dependencies.
func NewLoginHandler(deps LoginDeps) *LoginHandler {
	h := &LoginHandler{
		logger:   deps.Logger,
		access:   deps.Access,
		signer:   deps.Signer,
		sessions: deps.Sessions,
		now:      deps.Now,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.sessions == nil {
		h.sessions = HeaderSessionIssuer
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Register wires login routes onto the provided router. Extra handlers, such as a
// rate limiter, run before each route.
func (h *LoginHandler) Register(router fiber.Router, guards ...fiber.Handler) {
	login := router.Group("/login", guards...)
	login.Get("/:token", h.Status)
	login.Post("/:token/confirm/:sig", h.Confirm)
}

// Status handles GET /login/:token. It never consumes an access.
func (h *LoginHandler) Status(c *fiber.Ctx) error {
	raw := c.Params("token")
	noStore(c)

	status, err := h.access.GetDisplayStatus(requestContext(c), raw, h.now())
	if err != nil {
		return writeError(c, h.logger, "failed to load link status", err)
	}

	data := view.LoginPageData{Status: status}
	if status == access.StatusActive {
		sig, err := h.signer.Issue(raw)
		if err != nil {
			h.logger.Error("failed to issue confirm signature", zap.Error(err))
			return errorJSON(c, fiber.StatusInternalServerError, "failed to prepare login")
		}
		data.ConfirmURL = "/login/" + url.PathEscape(raw) + "/confirm/" + url.PathEscape(sig)
	}

	html, err := view.RenderLoginPage(data)
	if err != nil {
		h.logger.Error("failed to render login page", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "failed to render page")
	}

	return c.Status(pageStatus(status)).
		Type("html", "utf-8").
		SendString(html)
}

// Confirm handles POST /login/:token/confirm/:sig and consumes one access.
func (h *LoginHandler) Confirm(c *fiber.Ctx) error {
	raw := c.Params("token")
	noStore(c)

	if err := h.signer.Validate(raw, c.Params("sig")); err != nil {
		if errors.Is(err, httpUtil.ErrInvalidSignature) {
			return errorJSON(c, fiber.StatusForbidden, "confirmation expired, reload the login page")
		}
		h.logger.Error("failed to validate confirm signature", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "failed to validate confirmation")
	}

	p, err := h.access.PresentToken(requestContext(c), raw, h.now(), service.RequesterContext{
		IP:        c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
		RequestID: middleware.GetRequestID(c),
	})
	if err != nil {
		return writeError(c, h.logger, "failed to present login token", err)
	}

	if !p.Granted {
		h.logger.Debug("login denied",
			zap.String("token", token.Redact(raw)),
			zap.String("reason", string(p.Reason)),
		)
		status := fiber.StatusForbidden
		if p.Reason == access.ReasonNotFound || p.Reason == access.ReasonInvalidFormat {
			status = fiber.StatusNotFound
		}
		return c.Status(status).JSON(fiber.Map{
			"granted": false,
			"reason":  p.Reason,
		})
	}

	return h.sessions(c, p)
}

func pageStatus(status access.DisplayStatus) int {
	switch status {
	case access.StatusActive:
		return fiber.StatusOK
	case access.StatusNotFound:
		return fiber.StatusNotFound
	default:
		return fiber.StatusGone
	}
}

func noStore(c *fiber.Ctx) {
	c.Set(fiber.HeaderCacheControl, "no-store")
	c.Set(fiber.HeaderReferrerPolicy, "no-referrer")
}

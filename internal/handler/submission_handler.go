package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/coder-judge-api/internal/dto"
	"github.com/noah-isme/coder-judge-api/internal/service"
	"github.com/noah-isme/coder-judge-api/internal/utils"
)

// SubmissionGuards are the route-level middlewares of the submission API.
// Nil guards let every authenticated caller through.
type SubmissionGuards struct {
	CreateLimiter fiber.Handler
	AdminOnly     fiber.Handler
	ResultWriters fiber.Handler
}

// SubmissionHandler manages submission endpoints.
type SubmissionHandler struct {
	service service.SubmissionService
	logger  zerolog.Logger
}

// NewSubmissionHandler builds a submission handler instance.
func NewSubmissionHandler(service service.SubmissionService, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service: service,
		logger:  logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group. Static segments
// are registered before the :id routes.
func (h *SubmissionHandler) Register(router fiber.Router, guards SubmissionGuards) {
	router.Post("", orPass(guards.CreateLimiter), h.create)

	router.Get("/me", h.listMine)
	router.Get("/me/paged", h.listMinePaged)
	router.Get("/pending", orPass(guards.AdminOnly), h.listPending)
	router.Get("/stats/me", h.statsMine)
	router.Get("/stats/languages", h.statsByLanguage)

	router.Get("/exercises/:exerciseId<int>", h.listForExercise)
	router.Get("/exercises/:exerciseId<int>/me", h.listMineForExercise)
	router.Get("/exercises/:exerciseId<int>/latest-success", h.latestSuccess)

	router.Get("/:id<int>", h.get)
	router.Delete("/:id<int>", h.delete)
	router.Put("/:id<int>/result", orPass(guards.ResultWriters), h.applyResult)
	router.Post("/:id<int>/redispatch", orPass(guards.AdminOnly), h.redispatch)
}

func orPass(guard fiber.Handler) fiber.Handler {
	if guard != nil {
		return guard
	}
	return func(c *fiber.Ctx) error { return c.Next() }
}

func (h *SubmissionHandler) create(c *fiber.Ctx) error {
	var payload dto.SubmissionCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	submission, err := h.service.Create(requestContext(c), actorFromContext(c), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendCreated(c, "submission created", submission)
}

func (h *SubmissionHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.Get(requestContext(c), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission retrieved", submission)
}

func (h *SubmissionHandler) delete(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.service.Delete(requestContext(c), id, actorFromContext(c)); err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission deleted", nil)
}

func (h *SubmissionHandler) listMine(c *fiber.Ctx) error {
	submissions, err := h.service.ListForUser(requestContext(c), actorFromContext(c).ID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submissions retrieved", submissions)
}

func (h *SubmissionHandler) listMinePaged(c *fiber.Ctx) error {
	var query dto.SubmissionPageQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	page, err := h.service.ListForUserPaged(requestContext(c), actorFromContext(c).ID, query)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submissions retrieved", page)
}

func (h *SubmissionHandler) listPending(c *fiber.Ctx) error {
	submissions, err := h.service.ListPendingQueue(requestContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "pending submissions retrieved", submissions)
}

func (h *SubmissionHandler) listForExercise(c *fiber.Ctx) error {
	exerciseID, err := parseUintParam(c, "exerciseId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submissions, err := h.service.ListForExercise(requestContext(c), exerciseID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submissions retrieved", submissions)
}

func (h *SubmissionHandler) listMineForExercise(c *fiber.Ctx) error {
	exerciseID, err := parseUintParam(c, "exerciseId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submissions, err := h.service.ListForUserAndExercise(requestContext(c), actorFromContext(c).ID, exerciseID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submissions retrieved", submissions)
}

func (h *SubmissionHandler) latestSuccess(c *fiber.Ctx) error {
	exerciseID, err := parseUintParam(c, "exerciseId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.LatestSuccessful(requestContext(c), actorFromContext(c).ID, exerciseID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "latest successful submission retrieved", submission)
}

func (h *SubmissionHandler) applyResult(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.SubmissionResultRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	submission, err := h.service.ApplyResult(requestContext(c), id, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission result applied", submission)
}

func (h *SubmissionHandler) redispatch(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.Redispatch(requestContext(c), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "submission queued for grading", submission)
}

func (h *SubmissionHandler) statsMine(c *fiber.Ctx) error {
	stats, err := h.service.StatsForUser(requestContext(c), actorFromContext(c).ID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission statistics retrieved", stats)
}

func (h *SubmissionHandler) statsByLanguage(c *fiber.Ctx) error {
	stats, err := h.service.StatsByLanguage(requestContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "language statistics retrieved", stats)
}

func (h *SubmissionHandler) handleError(c *fiber.Ctx, err error) error {
	if details, ok := validationDetails(err); ok {
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", details)
	}

	switch {
	case errors.Is(err, service.ErrSubmissionNotFound),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrExerciseNotFound),
		errors.Is(err, service.ErrLanguageNotFound),
		errors.Is(err, service.ErrNoSuccessfulSubmission):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrSubmissionForbidden):
		return utils.SendError(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrInvalidSubmissionInput):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrSubmissionFinalized),
		errors.Is(err, service.ErrSubmissionNotPending):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrDispatchUnavailable):
		return utils.SendError(c, fiber.StatusServiceUnavailable, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Str("path", c.Path()).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}

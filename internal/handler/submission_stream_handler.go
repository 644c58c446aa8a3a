package handler

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/coder-judge-api/internal/dto"
	"github.com/noah-isme/coder-judge-api/internal/models"
	"github.com/noah-isme/coder-judge-api/internal/service"
)

const (
	streamWriteTimeout = 5 * time.Second
	streamPingInterval = 30 * time.Second
)

// SubmissionStreamHandler pushes status changes of one submission over a websocket.
type SubmissionStreamHandler struct {
	service service.SubmissionService
	logger  zerolog.Logger
}

// NewSubmissionStreamHandler creates a stream handler instance.
func NewSubmissionStreamHandler(service service.SubmissionService, logger zerolog.Logger) *SubmissionStreamHandler {
	return &SubmissionStreamHandler{
		service: service,
		logger:  logger.With().Str("component", "submission_stream_handler").Logger(),
	}
}

// Register binds the websocket route under the submissions group.
func (h *SubmissionStreamHandler) Register(router fiber.Router) {
	router.Get("/:id<int>/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		c.Locals("request_ctx", requestContext(c))
		return c.Next()
	}, websocket.New(h.handleConnection))
}

func (h *SubmissionStreamHandler) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	id, err := strconv.ParseUint(conn.Params("id"), 10, 64)
	if err != nil || id == 0 {
		h.closeWith(conn, websocket.ClosePolicyViolation, "invalid submission id")
		return
	}
	submissionID := uint(id)

	// Subscribe before reading the current state so no transition is missed.
	events, cleanup := h.service.Subscribe(submissionID)
	defer cleanup()

	ctx := requestContextFromLocals(conn)
	current, err := h.service.Get(ctx, submissionID)
	if err != nil {
		if errors.Is(err, service.ErrSubmissionNotFound) {
			h.closeWith(conn, websocket.ClosePolicyViolation, "submission not found")
			return
		}
		h.logger.Error().Err(err).Uint("submission_id", submissionID).Msg("failed to load submission for stream")
		h.closeWith(conn, websocket.CloseInternalServerErr, "internal server error")
		return
	}

	logger := h.logger.With().Uint("submission_id", submissionID).Logger()
	logger.Debug().Msg("status stream connected")
	defer logger.Debug().Msg("status stream disconnected")

	snapshot := dto.SubmissionStatusEvent{SubmissionID: submissionID, Status: current.Status, OccurredAt: time.Now().UTC()}
	if err := h.send(conn, snapshot); err != nil || isTerminal(current.Status) {
		h.closeWith(conn, websocket.CloseNormalClosure, "final")
		return
	}

	// The reader only exists to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := h.send(conn, event); err != nil {
				logger.Debug().Err(err).Msg("status stream write failed")
				return
			}
			if isTerminal(event.Status) {
				h.closeWith(conn, websocket.CloseNormalClosure, "final")
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(streamWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (h *SubmissionStreamHandler) send(conn *websocket.Conn, event dto.SubmissionStatusEvent) error {
	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(event)
}

func (h *SubmissionStreamHandler) closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(streamWriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}

func requestContextFromLocals(conn *websocket.Conn) context.Context {
	if ctx, ok := conn.Locals("request_ctx").(context.Context); ok && ctx != nil {
		return ctx
	}
	return context.Background()
}

func isTerminal(status string) bool {
	parsed, err := models.ParseSubmissionStatus(status)
	return err == nil && parsed.IsTerminal()
}

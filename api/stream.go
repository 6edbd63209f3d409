package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-kanban/actions"
	"prism-kanban/domain"
)

var (
	sseConnected = []byte(": connected\n\n")
	sseKeepalive = []byte(": keepalive\n\n")
	sseDataStart = []byte("data: ")
	sseDataEnd   = []byte("\n\n")
)

// streamBoard pushes every event of one project to the client as SSE. The
// bus handler only performs a non-blocking send; a client that falls
// StreamBuffer events behind is disconnected and must resync.
func streamBoard(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		projectID := c.Param("id")
		userID, err := d.Auth.UserIDFromAuthHeader(authHeader(c))
		if err != nil {
			return writeError(c, &domain.UnauthenticatedError{Reason: err.Error()})
		}
		if err := d.Authorizer.Authorize(ctx, userID, projectID, actions.ActionViewBoard); err != nil {
			return writeError(c, err)
		}
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "stream unsupported"})
		}

		logger := d.Logger.WithFields(log.Fields{"project": projectID, "user": userID})
		events := make(chan domain.Event, d.StreamBuffer)
		overflow := make(chan struct{})
		var overflowOnce sync.Once
		unsubscribe := d.Bus.Subscribe(projectID, func(ev domain.Event) {
			select {
			case events <- ev:
			default:
				overflowOnce.Do(func() { close(overflow) })
			}
		})
		defer unsubscribe()

		h := c.Response().Header()
		h.Set(echo.HeaderContentType, "text/event-stream")
		h.Set(echo.HeaderCacheControl, "no-cache")
		h.Set(echo.HeaderConnection, "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)
		if _, err := c.Response().Write(sseConnected); err != nil {
			logger.WithError(err).Debug("stream closed before first write")
			return nil
		}
		flusher.Flush()
		logger.Debug("stream opened")

		var keepalive <-chan time.Time
		if d.StreamKeepalive > 0 {
			ticker := time.NewTicker(d.StreamKeepalive)
			defer ticker.Stop()
			keepalive = ticker.C
		}

		for {
			select {
			case <-ctx.Done():
				logger.Debug("stream closed by client")
				return nil
			case <-overflow:
				logger.WithField("buffer", d.StreamBuffer).Warn("stream consumer too slow, closing")
				return nil
			case ev := <-events:
				data, err := domain.EncodeEvent(ev)
				if err != nil {
					logger.WithError(err).Error("encode stream event")
					return nil
				}
				if err := writeEvent(c.Response(), data); err != nil {
					logger.WithError(err).Debug("stream write failed")
					return nil
				}
				flusher.Flush()
			case <-keepalive:
				if _, err := c.Response().Write(sseKeepalive); err != nil {
					logger.WithError(err).Debug("stream write failed")
					return nil
				}
				flusher.Flush()
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, data []byte) error {
	for _, part := range [][]byte{sseDataStart, data, sseDataEnd} {
		if _, err := w.Write(part); err != nil {
			return err
		}
	}
	return nil
}

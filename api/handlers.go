package api

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-kanban/actions"
	"prism-kanban/domain"
)

const maxMutationBodySize = 64 << 10

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	if d.StreamBuffer <= 0 {
		d.StreamBuffer = 64
	}
	e.GET("/projects/:id/columns", getColumns(d))
	e.GET("/projects/:id/tasks", getTasks(d))
	e.GET("/projects/:id/board", getBoard(d))
	e.POST("/projects/:id/tasks/:taskId/move", moveTask(d))
	e.POST("/projects/:id/columns/reorder", reorderColumns(d))
	e.GET("/projects/:id/stream", streamBoard(d))
	e.GET("/healthz", healthz(d))
}

func healthz(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		resp := healthResponse{Status: "ok"}
		if d.Bus != nil {
			resp.Listeners = d.Bus.ListenerCount()
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func statusForCode(code domain.ErrorCode) int {
	switch code {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeUnauthenticated:
		return http.StatusUnauthorized
	case domain.CodeUnauthorized:
		return http.StatusForbidden
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c echo.Context, err error) error {
	return c.JSON(statusForCode(domain.Classify(err)), errorResponse{Error: strings.Join(domain.Messages(err), "; ")})
}

// readBoard authenticates, authorizes ActionViewBoard and loads the board,
// recording each stage on m.
func readBoard(c echo.Context, d Deps, m *boardRequestMetrics) (domain.Board, error) {
	ctx := c.Request().Context()
	projectID := c.Param("id")

	authStart := time.Now()
	userID, err := d.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	m.ObserveAuth(time.Since(authStart))
	if err != nil {
		m.SetErrorStage("auth")
		return domain.Board{}, &domain.UnauthenticatedError{Reason: err.Error()}
	}
	if err := d.Authorizer.Authorize(ctx, userID, projectID, actions.ActionViewBoard); err != nil {
		m.SetErrorStage("authorize")
		return domain.Board{}, err
	}

	fetchStart := time.Now()
	board, err := d.Boards.Board(ctx, projectID)
	m.ObserveFetch(time.Since(fetchStart))
	if err != nil {
		m.SetErrorStage("storage")
		return domain.Board{}, err
	}
	m.SetBoard(len(board.Columns), len(board.Tasks), board.Revision)
	return board, nil
}

// boardRead runs a read route: project the board through view and write it
// as JSON.
func boardRead(d Deps, route string, view func(domain.Board) any) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, spanCtx := newBoardRequestMetrics(c.Request().Context(), d.Logger, route)
		c.SetRequest(c.Request().WithContext(spanCtx))
		var logErr error
		defer func() {
			metrics.Log(c.Response().Status, logErr)
		}()

		board, readErr := readBoard(c, d, metrics)
		if readErr != nil {
			if statusForCode(domain.Classify(readErr)) >= http.StatusInternalServerError {
				logErr = readErr
				d.Logger.WithError(readErr).WithField("project", c.Param("id")).Error("board read failed")
			}
			return writeError(c, readErr)
		}
		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, view(board))
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
			logErr = err
		}
		return err
	}
}

func getColumns(d Deps) echo.HandlerFunc {
	return boardRead(d, "/projects/:id/columns", func(b domain.Board) any {
		cols := b.Columns
		if cols == nil {
			cols = []domain.Column{}
		}
		return cols
	})
}

func getTasks(d Deps) echo.HandlerFunc {
	return boardRead(d, "/projects/:id/tasks", func(b domain.Board) any {
		tasks := b.Tasks
		if tasks == nil {
			tasks = []domain.Task{}
		}
		return tasks
	})
}

func getBoard(d Deps) echo.HandlerFunc {
	return boardRead(d, "/projects/:id/board", func(b domain.Board) any { return b })
}

func decodeBody(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxMutationBodySize))
	if err := dec.Decode(v); err != nil {
		return domain.NewValidationError("invalid body")
	}
	return nil
}

// mutate runs the shared mutation flow: authenticate, decode, claim the
// idempotency key and write the action result envelope.
func mutate[T any](c echo.Context, d Deps, body any, run func(ctx context.Context, userID string) domain.ActionResult[T]) error {
	userID, err := d.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		res := domain.Fail[T](&domain.UnauthenticatedError{Reason: err.Error()})
		return c.JSON(http.StatusUnauthorized, res)
	}
	if err := decodeBody(c, body); err != nil {
		return c.JSON(http.StatusBadRequest, domain.Fail[T](err))
	}

	release, duplicate := claimIdempotencyKey(c, d.Deduper, d.Logger, userID)
	if duplicate {
		res := domain.Fail[T](&domain.ConflictError{Reason: "idempotency key already used"})
		return c.JSON(http.StatusConflict, res)
	}
	res := run(c.Request().Context(), userID)
	if !res.Success {
		release()
		return c.JSON(statusForCode(res.Code), res)
	}
	return c.JSON(http.StatusOK, res)
}

func moveTask(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body moveTaskBody
		return mutate(c, d, &body, func(ctx context.Context, userID string) domain.ActionResult[domain.TaskMovedEvent] {
			if body.Position == nil {
				return domain.Fail[domain.TaskMovedEvent](domain.NewValidationError("position is required"))
			}
			return d.Mutations.MoveTask(ctx, actions.MoveTaskRequest{
				ProjectID:        c.Param("id"),
				TaskID:           c.Param("taskId"),
				TargetColumnID:   body.ColumnID,
				TargetPosition:   *body.Position,
				ActorID:          userID,
				ClientMutationID: body.ClientMutationID,
			})
		})
	}
}

func reorderColumns(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body reorderColumnsBody
		return mutate(c, d, &body, func(ctx context.Context, userID string) domain.ActionResult[domain.ColumnsReorderedEvent] {
			return d.Mutations.ReorderColumns(ctx, actions.ReorderColumnsRequest{
				ProjectID:        c.Param("id"),
				OrderedColumnIDs: body.ColumnIDs,
				ActorID:          userID,
				ClientMutationID: body.ClientMutationID,
			})
		})
	}
}

package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"prism-kanban/actions"
	"prism-kanban/bus"
	"prism-kanban/domain"
	"prism-kanban/storage"
)

const testSecret = "test-secret"

func signToken(t *testing.T, sub string, ttl time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub, "exp": time.Now().Add(ttl).Unix(), "iat": time.Now().Unix()}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

type testEnv struct {
	e      *echo.Echo
	bus    *bus.Bus
	store  *storage.Memory
	logs   *test.Hook
	deps   Deps
	logger *log.Logger
}

func newTestEnv(t *testing.T, customize ...func(*Deps)) *testEnv {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	store := storage.NewMemory()
	store.Seed(storage.DemoBoard(), map[string]string{
		"alice": actions.RoleEditor,
		"bob":   actions.RoleViewer,
	})
	b := bus.New(bus.Options{Logger: logger})
	authz := actions.Membership{Roles: store}
	deps := Deps{
		Boards:       store,
		Mutations:    actions.NewService(store, authz, b, logger),
		Auth:         NewAuth(nil, AuthOptions{TestSecret: []byte(testSecret)}),
		Authorizer:   authz,
		Bus:          b,
		Logger:       logger,
		StreamBuffer: 8,
	}
	for _, fn := range customize {
		fn(&deps)
	}
	e := echo.New()
	e.Use(BodyMiddleware(DefaultBodyLimit))
	Register(e, deps)
	return &testEnv{e: e, bus: b, store: store, logs: hook, deps: deps, logger: logger}
}

func (env *testEnv) do(t *testing.T, method, path, user, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if user != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+signToken(t, user, time.Hour))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) board(t *testing.T) domain.Board {
	t.Helper()
	b, err := env.store.Board(context.Background(), storage.DemoProjectID)
	if err != nil {
		t.Fatalf("board: %v", err)
	}
	return b
}

type failingBoards struct{ err error }

func (f failingBoards) Board(context.Context, string) (domain.Board, error) {
	return domain.Board{}, f.err
}

type flushRecorder struct{ *httptest.ResponseRecorder }

func (flushRecorder) Flush() {}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var _ http.Flusher = flushRecorder{}

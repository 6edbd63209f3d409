package client

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"prism-kanban/actions"
	"prism-kanban/api"
	"prism-kanban/bus"
	"prism-kanban/storage"
)

const testSecret = "client-test-secret"

func signToken(t *testing.T, sub string) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub, "exp": time.Now().Add(time.Hour).Unix(), "iat": time.Now().Unix()}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

type serverEnv struct {
	srv    *httptest.Server
	store  *storage.Memory
	bus    *bus.Bus
	logger *log.Logger
}

// newServerEnv serves the real API over the demo board. alice edits, bob
// only views.
func newServerEnv(t *testing.T) *serverEnv {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := storage.NewMemory()
	store.Seed(storage.DemoBoard(), map[string]string{
		"alice": actions.RoleEditor,
		"bob":   actions.RoleViewer,
	})
	b := bus.New(bus.Options{Logger: logger})
	authz := actions.Membership{Roles: store}
	e := echo.New()
	api.Register(e, api.Deps{
		Boards:       store,
		Mutations:    actions.NewService(store, authz, b, logger),
		Auth:         api.NewAuth(nil, api.AuthOptions{TestSecret: []byte(testSecret)}),
		Authorizer:   authz,
		Bus:          b,
		Logger:       logger,
		StreamBuffer: 16,
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return &serverEnv{srv: srv, store: store, bus: b, logger: logger}
}

func (env *serverEnv) client(t *testing.T, user string) *HTTPClient {
	t.Helper()
	c := NewHTTPClient(env.srv.URL, signToken(t, user))
	c.Logger = env.logger
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

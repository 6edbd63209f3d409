package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"prism-kanban/domain"
	"prism-kanban/storage"
)

func TestFetchBoard(t *testing.T) {
	env := newServerEnv(t)
	ctx := context.Background()

	board, err := env.client(t, "bob").FetchBoard(ctx, storage.DemoProjectID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(board.Columns) != 3 || len(board.Tasks) != 6 || board.Revision != 0 {
		t.Fatalf("board = %+v", board)
	}

	var status *StatusError
	_, err = env.client(t, "bob").FetchBoard(ctx, "missing")
	if !errors.As(err, &status) || status.StatusCode != http.StatusNotFound {
		t.Fatalf("missing project err = %v", err)
	}
	_, err = NewHTTPClient(env.srv.URL, "not-a-token").FetchBoard(ctx, storage.DemoProjectID)
	if !errors.As(err, &status) || status.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token err = %v", err)
	}
}

func TestMutationsReturnEnvelopes(t *testing.T) {
	env := newServerEnv(t)
	ctx := context.Background()

	res, err := env.client(t, "alice").MoveTask(ctx, storage.DemoProjectID, MoveTaskInput{
		TaskID:           "todo-2",
		ColumnID:         "done",
		Position:         0,
		ClientMutationID: "m-1",
	})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if !res.Success || res.Data == nil || res.Data.Revision != 1 || res.Data.ClientMutationID != "m-1" {
		t.Fatalf("move result = %+v", res)
	}

	denied, err := env.client(t, "bob").MoveTask(ctx, storage.DemoProjectID, MoveTaskInput{
		TaskID:   "todo-1",
		ColumnID: "done",
	})
	if err != nil {
		t.Fatalf("denied move transport error: %v", err)
	}
	if denied.Success || denied.Code != domain.CodeUnauthorized {
		t.Fatalf("denied result = %+v", denied)
	}

	bad, err := env.client(t, "alice").ReorderColumns(ctx, storage.DemoProjectID, ReorderColumnsInput{
		ColumnIDs: []string{"todo", "todo"},
	})
	if err != nil {
		t.Fatalf("reorder transport error: %v", err)
	}
	if bad.Success || bad.Code != domain.CodeValidation || len(bad.Errors) != 3 {
		t.Fatalf("bad reorder = %+v", bad)
	}
}

func TestIdempotencyKeyFollowsMutationID(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Idempotency-Key")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"success":false,"error":"idempotency key already used","code":"conflict"}`)
	}))
	defer srv.Close()

	res, err := NewHTTPClient(srv.URL, "tok").ReorderColumns(context.Background(), "p", ReorderColumnsInput{
		ColumnIDs:        []string{"a"},
		ClientMutationID: "m-7",
	})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if got != "m-7" {
		t.Fatalf("Idempotency-Key = %q", got)
	}
	if res.Success || res.Code != domain.CodeConflict {
		t.Fatalf("result = %+v", res)
	}
}

func TestStreamDeliversCommittedEvents(t *testing.T) {
	env := newServerEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opened := make(chan struct{})
	events := make(chan domain.Event, 4)
	done := make(chan error, 1)
	watcher := env.client(t, "bob")
	go func() {
		done <- watcher.Stream(ctx, storage.DemoProjectID, StreamHandler{
			OnOpen:  func() { close(opened) },
			OnEvent: func(ev domain.Event) { events <- ev },
		})
	}()
	select {
	case <-opened:
	case err := <-done:
		t.Fatalf("stream ended early: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("stream never opened")
	}

	res, err := env.client(t, "alice").MoveTask(context.Background(), storage.DemoProjectID, MoveTaskInput{
		TaskID:           "doing-1",
		ColumnID:         "done",
		Position:         1,
		ClientMutationID: "m-9",
	})
	if err != nil || !res.Success {
		t.Fatalf("move: %+v, %v", res, err)
	}

	select {
	case ev := <-events:
		moved, ok := ev.(*domain.TaskMovedEvent)
		if !ok || moved.TaskID != "doing-1" || moved.NewPosition != 1 || moved.MutationID() != "m-9" || moved.Revision != 1 {
			t.Fatalf("event = %#v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no event received")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("stream returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not stop on cancel")
	}
	waitFor(t, "server unsubscribe", func() bool { return env.bus.ListenerCount() == 0 })
}

func TestStreamSkipsUndecodableEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": connected\n\n")
		fmt.Fprint(w, "data: {not json\n\n")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, `data: {"type":"reorder-kanban-columns","projectId":"p","orderedColumnIds":["b","a"],"userId":"u","revision":4}`+"\n\n")
	}))
	defer srv.Close()

	var got []domain.Event
	opens := 0
	err := NewHTTPClient(srv.URL, "tok").Stream(context.Background(), "p", StreamHandler{
		OnOpen:  func() { opens++ },
		OnEvent: func(ev domain.Event) { got = append(got, ev) },
	})
	if !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("stream err = %v", err)
	}
	if opens != 1 || len(got) != 1 || got[0].BoardRevision() != 4 {
		t.Fatalf("opens=%d events=%v", opens, got)
	}

	var status *StatusError
	err = NewHTTPClient(srv.URL, "other").Stream(context.Background(), "p", StreamHandler{})
	if !errors.As(err, &status) || status.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthorized stream err = %v", err)
	}
}

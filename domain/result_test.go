package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
)

func TestActionResultSingleErrorIsString(t *testing.T) {
	res := Fail[TaskMovedEvent](&NotFoundError{Entity: "task", ID: "T"})
	data, err := sonic.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"error":"task T not found"`) || !strings.Contains(string(data), `"success":false`) {
		t.Fatalf("unexpected payload %s", data)
	}
	if strings.Contains(string(data), `"data"`) {
		t.Fatalf("failed result must not carry data: %s", data)
	}
}

func TestActionResultValidationErrorsAreArray(t *testing.T) {
	res := Fail[ColumnsReorderedEvent](NewValidationError("column A is missing from the new order", "column X does not belong to the project"))
	data, err := sonic.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"error":["column A is missing from the new order","column X does not belong to the project"]`) {
		t.Fatalf("unexpected payload %s", data)
	}

	var decoded ActionResult[ColumnsReorderedEvent]
	if err := sonic.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Success || decoded.Code != CodeValidation || len(decoded.Errors) != 2 {
		t.Fatalf("unexpected decoded result %+v", decoded)
	}
	var resErr *ResultError
	if !errors.As(decoded.Err(), &resErr) || resErr.Code != CodeValidation {
		t.Fatalf("expected validation ResultError, got %v", decoded.Err())
	}
}

func TestActionResultEmptyValidationErrorStillCarriesMessage(t *testing.T) {
	res := Fail[TaskMovedEvent](NewValidationError())
	if len(res.Errors) != 1 || res.Errors[0] != "invalid request" || res.Code != CodeValidation {
		t.Fatalf("unexpected result %+v", res)
	}
	data, err := sonic.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"error":"invalid request"`) {
		t.Fatalf("envelope lost its error field: %s", data)
	}
}

func TestActionResultOkCarriesData(t *testing.T) {
	res := Ok(TaskMovedEvent{TaskID: "T"})
	data, err := sonic.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded ActionResult[TaskMovedEvent]
	if err := sonic.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.Success || decoded.Data == nil || decoded.Data.TaskID != "T" || decoded.Err() != nil {
		t.Fatalf("unexpected decoded result %+v", decoded)
	}
}

func TestDatabaseErrorsAreNotLeaked(t *testing.T) {
	err := &DatabaseOperationError{Op: "move task", Err: errors.New("pq: connection reset by peer")}
	if Classify(err) != CodeDatabase {
		t.Fatalf("unexpected code %s", Classify(err))
	}
	msgs := Messages(err)
	if len(msgs) != 1 || strings.Contains(msgs[0], "pq:") {
		t.Fatalf("storage detail leaked: %v", msgs)
	}
}

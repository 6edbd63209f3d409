package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// ActionResult is the envelope every mutation returns. Callers must check
// Success before reading Data.
type ActionResult[T any] struct {
	Success bool
	Data    *T
	Errors  []string
	Code    ErrorCode
}

// Ok wraps a successful result.
func Ok[T any](data T) ActionResult[T] {
	return ActionResult[T]{Success: true, Data: &data}
}

// Fail converts err into a failed result. The result always carries at
// least one message.
func Fail[T any](err error) ActionResult[T] {
	msgs := Messages(err)
	if len(msgs) == 0 {
		msgs = []string{err.Error()}
	}
	return ActionResult[T]{Errors: msgs, Code: Classify(err)}
}

// Err rebuilds an error from a failed result, or nil on success.
func (r ActionResult[T]) Err() error {
	if r.Success {
		return nil
	}
	return &ResultError{Code: r.Code, Messages: append([]string(nil), r.Errors...)}
}

// ResultError is a failed ActionResult seen from the caller's side.
type ResultError struct {
	Code     ErrorCode
	Messages []string
}

func (e *ResultError) Error() string {
	if len(e.Messages) == 0 {
		return string(e.Code)
	}
	return strings.Join(e.Messages, "; ")
}

type resultOut[T any] struct {
	Success bool      `json:"success"`
	Data    *T        `json:"data,omitempty"`
	Error   any       `json:"error,omitempty"`
	Code    ErrorCode `json:"code,omitempty"`
}

type resultIn[T any] struct {
	Success bool            `json:"success"`
	Data    *T              `json:"data,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
	Code    ErrorCode       `json:"code,omitempty"`
}

// MarshalJSON writes error as a string for one message and as an array
// for several.
func (r ActionResult[T]) MarshalJSON() ([]byte, error) {
	out := resultOut[T]{Success: r.Success, Data: r.Data, Code: r.Code}
	switch len(r.Errors) {
	case 0:
	case 1:
		out.Error = r.Errors[0]
	default:
		out.Error = r.Errors
	}
	return sonic.Marshal(out)
}

func (r *ActionResult[T]) UnmarshalJSON(data []byte) error {
	var in resultIn[T]
	if err := sonic.Unmarshal(data, &in); err != nil {
		return err
	}
	r.Success, r.Data, r.Code, r.Errors = in.Success, in.Data, in.Code, nil
	if len(in.Error) == 0 || string(in.Error) == "null" {
		return nil
	}
	var single string
	if err := sonic.Unmarshal(in.Error, &single); err == nil {
		r.Errors = []string{single}
		return nil
	}
	var many []string
	if err := sonic.Unmarshal(in.Error, &many); err != nil {
		return fmt.Errorf("decode result error %s: %w", in.Error, err)
	}
	r.Errors = many
	return nil
}

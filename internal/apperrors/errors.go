// Package apperrors holds the error kinds shared by campaign dispatch and
// instance lifecycle operations.
package apperrors

import (
	"errors"
	"fmt"
)

// Reason identifies why a draft or request was rejected
type Reason string

const (
	ReasonInstanceNameRequired Reason = "instance_name_required"
	ReasonNameRequired         Reason = "name_required"
	ReasonInvalidSendType      Reason = "invalid_send_type"
	ReasonMessageRequired      Reason = "message_required"
	ReasonMessageTooLong       Reason = "message_too_long"
	ReasonInvalidDelay         Reason = "invalid_delay"
	ReasonImageURLRequired     Reason = "image_url_required"
	ReasonPhonesRequired       Reason = "phones_required"
	ReasonTooManyPhones        Reason = "too_many_phones"
)

var reasonMessages = map[Reason]string{
	ReasonInstanceNameRequired: "instance name is required",
	ReasonNameRequired:         "campaign name is required",
	ReasonInvalidSendType:      "send type must be text, image or image_text",
	ReasonMessageRequired:      "message is required",
	ReasonMessageTooLong:       "message must be at most 1000 characters",
	ReasonInvalidDelay:         "delay must be at least 1 second",
	ReasonImageURLRequired:     "image URL is required for image campaigns",
	ReasonPhonesRequired:       "at least one valid phone is required",
	ReasonTooManyPhones:        "at most 1000 phones per campaign",
}

// ValidationError rejects input before any external call is made
type ValidationError struct {
	Reason Reason
}

func (e *ValidationError) Error() string {
	if msg, ok := reasonMessages[e.Reason]; ok {
		return msg
	}
	return string(e.Reason)
}

// NewValidation returns a ValidationError for reason
func NewValidation(reason Reason) error {
	return &ValidationError{Reason: reason}
}

// GatewayError is a non-2xx answer or transport failure from a webhook call
type GatewayError struct {
	Call       string
	StatusCode int
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	switch {
	case e.Message != "" && e.StatusCode != 0:
		return fmt.Sprintf("gateway %s: HTTP %d: %s", e.Call, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("gateway %s: HTTP %d", e.Call, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("gateway %s: %v", e.Call, e.Err)
	default:
		return fmt.Sprintf("gateway %s failed", e.Call)
	}
}

func (e *GatewayError) Unwrap() error { return e.Err }

// StoreError is a persistence failure
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStore wraps err as a StoreError, nil stays nil
func NewStore(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// ParseError is a response with an unexpected shape
type ParseError struct {
	Call   string
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("gateway %s: unexpected response: %s", e.Call, e.Detail)
}

// ErrNotFound is returned when a named record does not exist
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when a named record is created twice
var ErrAlreadyExists = errors.New("already exists")

// Kind classifies an error for callers that render results
type Kind string

const (
	KindValidation Kind = "validation"
	KindGateway    Kind = "gateway"
	KindStore      Kind = "store"
	KindParse      Kind = "parse"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindInternal   Kind = "internal"
)

// Result is a structured description of an operation failure
type Result struct {
	Kind       Kind   `json:"kind"`
	Reason     Reason `json:"reason,omitempty"`
	Message    string `json:"message"`
	StatusCode int    `json:"gateway_status,omitempty"`
}

// Describe maps err onto a Result. Validation wins over the other kinds so a
// rejected draft is never reported as a transport problem.
func Describe(err error) Result {
	var (
		ve *ValidationError
		ge *GatewayError
		pe *ParseError
		se *StoreError
	)

	switch {
	case errors.As(err, &ve):
		return Result{Kind: KindValidation, Reason: ve.Reason, Message: ve.Error()}
	case errors.Is(err, ErrNotFound):
		return Result{Kind: KindNotFound, Message: err.Error()}
	case errors.Is(err, ErrAlreadyExists):
		return Result{Kind: KindConflict, Message: err.Error()}
	case errors.As(err, &ge):
		msg := ge.Message
		if msg == "" {
			msg = ge.Error()
		}
		return Result{Kind: KindGateway, Message: msg, StatusCode: ge.StatusCode}
	case errors.As(err, &pe):
		return Result{Kind: KindParse, Message: pe.Error()}
	case errors.As(err, &se):
		return Result{Kind: KindStore, Message: se.Error()}
	default:
		return Result{Kind: KindInternal, Message: err.Error()}
	}
}

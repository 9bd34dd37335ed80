package sanction

import (
	"errors"
	"net/http"
)

var (
	ErrAuthInvalid         = errors.New("invalid token")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrSelfAction          = errors.New("self action denied")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnknownSubject      = errors.New("unknown or suspended subject")
	ErrInvalidReason       = errors.New("invalid reason")
	ErrInvalidPlatform     = errors.New("invalid platform")
	ErrStoreFailure        = errors.New("store failure")
	ErrCollaboratorFailure = errors.New("collaborator failure")
)

type Status int

const (
	StatusOK Status = iota
	// request recorded; a follow-up action failed and is pending retry
	StatusPartial
	StatusBadRequest
	StatusTooManyRequests
	StatusInternalError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusPartial:
		return "partial"
	case StatusBadRequest:
		return "bad_request"
	case StatusTooManyRequests:
		return "too_many_requests"
	default:
		return "internal_error"
	}
}

func (s Status) HTTPStatus() int {
	switch s {
	case StatusOK:
		return http.StatusOK
	case StatusPartial:
		return http.StatusAccepted
	case StatusBadRequest:
		return http.StatusBadRequest
	case StatusTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Outcome of a handled request. Err is nil for StatusOK.
type Result struct {
	Status  Status
	Message string
	Err     error
}

func (r *Result) IsError() bool {
	return r.Status != StatusOK && r.Status != StatusPartial
}

func ok() *Result {
	return &Result{Status: StatusOK, Message: "OK"}
}

func partial(msg string, err error) *Result {
	return &Result{Status: StatusPartial, Message: msg, Err: err}
}

// Maps an error from the taxonomy to a result. message overrides the
// default text for client errors.
func reject(err error, message string) *Result {
	res := &Result{Err: err, Message: message}
	switch {
	case errors.Is(err, ErrRateLimited):
		res.Status = StatusTooManyRequests
		if res.Message == "" {
			res.Message = "Too many requests"
		}
	case errors.Is(err, ErrStoreFailure), errors.Is(err, ErrCollaboratorFailure):
		res.Status = StatusInternalError
		res.Message = "Internal server error"
	case errors.Is(err, ErrAuthInvalid),
		errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrSelfAction),
		errors.Is(err, ErrUnknownSubject),
		errors.Is(err, ErrInvalidReason),
		errors.Is(err, ErrInvalidPlatform):
		res.Status = StatusBadRequest
		if res.Message == "" {
			res.Message = err.Error()
		}
	default:
		res.Status = StatusInternalError
		res.Message = "Internal server error"
	}
	return res
}

func rejectionKind(err error) string {
	switch {
	case errors.Is(err, ErrAuthInvalid):
		return "auth"
	case errors.Is(err, ErrPermissionDenied):
		return "permission"
	case errors.Is(err, ErrSelfAction):
		return "self"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUnknownSubject):
		return "unknown_subject"
	case errors.Is(err, ErrInvalidReason):
		return "reason"
	case errors.Is(err, ErrInvalidPlatform):
		return "platform"
	case errors.Is(err, ErrStoreFailure):
		return "store"
	default:
		return "collaborator"
	}
}

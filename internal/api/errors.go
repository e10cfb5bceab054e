package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/studyhub/internal/chat"
	"github.com/npezzotti/studyhub/internal/database"
	"github.com/npezzotti/studyhub/internal/groups"
	"github.com/npezzotti/studyhub/internal/resources"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Detail     string `json:"error,omitempty"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func NewBadRequestError(message string) *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
	}
}

func NewNotFoundError(message string) *ApiError {
	return &ApiError{
		StatusCode: http.StatusNotFound,
		Message:    message,
	}
}

func NewInternalServerError(err error) *ApiError {
	apiErr := &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
	if err != nil {
		apiErr.Detail = err.Error()
	}

	return apiErr
}

func NewUnauthorizedError(message string) *ApiError {
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Message:    message,
	}
}

func NewForbiddenError(message string) *ApiError {
	return &ApiError{
		StatusCode: http.StatusForbidden,
		Message:    message,
	}
}

var badRequestErrors = []error{
	chat.ErrRoomRequired,
	chat.ErrMessageRequired,
	groups.ErrNameRequired,
	groups.ErrInvalidCategory,
	groups.ErrInviteCodeRequired,
	groups.ErrCreatorCannotLeave,
	groups.ErrAlreadyMember,
	groups.ErrGroupFull,
	resources.ErrFileRequired,
	resources.ErrFileTooLarge,
	resources.ErrInvalidFileType,
	resources.ErrInvalidCategory,
}

var forbiddenErrors = []error{
	groups.ErrNotCreator,
	resources.ErrNotUploader,
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// errorResponse maps a service error onto the response sent to the client.
// subject names the entity in not-found messages.
func errorResponse(err error, subject string) *ApiError {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return NewNotFoundError(subject + " not found")
	case errors.Is(err, database.ErrDuplicateEmail):
		return NewBadRequestError("user already exists")
	case isAny(err, forbiddenErrors):
		return NewForbiddenError(err.Error())
	case isAny(err, badRequestErrors):
		return NewBadRequestError(err.Error())
	default:
		return NewInternalServerError(err)
	}
}

// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/kalanatw/growaloe-crm/internal/shared"
)

// ErrUnauthorized marks requests without an actor.
var ErrUnauthorized = errors.New("unauthorized")

// RespondError maps shared errors to HTTP responses using RFC7807. Domain
// packages handle their own sentinels first and fall through to this.
func RespondError(w http.ResponseWriter, err error) {
	var vErr *shared.ValidationError
	var fieldErrs validator.ValidationErrors
	switch {
	case errors.As(err, &vErr):
		ProblemFields(w, http.StatusBadRequest, "Validation Failed", vErr.Error(), map[string]string{vErr.Field: vErr.Message})
	case errors.As(err, &fieldErrs):
		fields := make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields[fe.Field()] = fe.Tag()
		}
		ProblemFields(w, http.StatusBadRequest, "Validation Failed", "request failed validation", fields)
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", shared.UserSafeMessage(err))
	}
}

// Package handler adapts HTTP requests to the allocation engine and the job
// runner.  Handlers only translate: authorization is applied by middleware
// and every business rule lives below the service layer.
package handler

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	apperrors "github.com/iliyamo/parking-reservation/internal/errors"
	"github.com/iliyamo/parking-reservation/internal/logger"
	"github.com/iliyamo/parking-reservation/internal/middleware"
)

// Validator plugs go-playground/validator into echo's c.Validate.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return &Validator{v: v}
}

func (cv *Validator) Validate(i any) error {
	if err := cv.v.Struct(i); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return apperrors.Wrap(apperrors.CodeValidation, err, "validation failed")
	}
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		msgs = append(msgs, fe.Field()+" "+validationMessage(fe))
	}
	return apperrors.New(apperrors.CodeValidation, strings.Join(msgs, "; "))
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "email":
		return "must be a valid email"
	}
	return "is invalid"
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// ErrorHandler renders every error as {"error":{"code","message"}} using the
// code's HTTP status.  Internal causes are logged, never returned.
func ErrorHandler(logg *logger.Logger) echo.HTTPErrorHandler {
	if logg == nil {
		logg = logger.Nop()
	}
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		typed := toAppError(err)
		meta := apperrors.MetadataFor(typed.Code())

		msg := meta.PublicMessage
		if meta.HTTPStatus < http.StatusInternalServerError && typed.Message() != "" {
			msg = typed.Message()
		}

		ctx := c.Request().Context()
		if meta.HTTPStatus >= http.StatusInternalServerError {
			logg.Error(logg.WithField(ctx, "error_code", string(typed.Code())), "request.error", err)
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(meta.HTTPStatus)
		} else {
			werr = c.JSON(meta.HTTPStatus, errorEnvelope{Error: errorBody{Code: string(typed.Code()), Message: msg}})
		}
		if werr != nil {
			logg.Error(ctx, "failed to write error response", werr)
		}
	}
}

// toAppError maps echo's own errors (404 routes, bad binds) onto codes.
func toAppError(err error) *apperrors.Error {
	if typed := apperrors.As(err); typed != nil {
		return typed
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
		switch he.Code {
		case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusRequestEntityTooLarge:
			return apperrors.New(apperrors.CodeValidation, msg)
		case http.StatusUnauthorized:
			return apperrors.New(apperrors.CodeUnauthorized, msg)
		case http.StatusForbidden:
			return apperrors.New(apperrors.CodeForbidden, msg)
		case http.StatusNotFound, http.StatusMethodNotAllowed:
			return apperrors.New(apperrors.CodeNotFound, msg)
		case http.StatusTooManyRequests:
			return apperrors.New(apperrors.CodeRateLimited, msg)
		case http.StatusServiceUnavailable:
			return apperrors.Wrap(apperrors.CodeDependency, err, msg)
		}
	}
	return apperrors.Wrap(apperrors.CodeInternal, err, "unexpected error")
}

// bind decodes the body into dst and validates it.
func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, err, "invalid request body")
	}
	return c.Validate(dst)
}

func pathID(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperrors.Newf(apperrors.CodeValidation, "invalid %s", name)
	}
	return id, nil
}

func currentUser(c echo.Context) (uint64, error) {
	uid, ok := middleware.UserID(c)
	if !ok {
		return 0, apperrors.New(apperrors.CodeUnauthorized, "authentication required")
	}
	return uid, nil
}

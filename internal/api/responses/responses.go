package responses

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/LaxRaj/the-garage/internal/errors"
	"github.com/LaxRaj/the-garage/internal/logger"
)

// APIError is the body of every error response.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	Retryable bool   `json:"retryable"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, data)
}

// WriteError maps err to its HTTP status and aborts the request. Untyped
// errors become INTERNAL and never leak their message.
func WriteError(c *gin.Context, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	typed := apperrors.As(err)
	if typed == nil {
		typed = apperrors.Wrap(apperrors.CodeInternal, err, "unexpected error")
	}
	meta := apperrors.MetadataFor(typed.Code())

	msg := meta.PublicMessage
	switch typed.Code() {
	case apperrors.CodeInternal, apperrors.CodeProvider, apperrors.CodeUnavailable:
	default:
		if m := typed.Message(); m != "" {
			msg = m
		}
	}

	payload := ErrorEnvelope{Error: APIError{
		Code:      string(typed.Code()),
		Message:   msg,
		Retryable: meta.Retryable,
	}}
	if meta.DetailsAllowed {
		payload.Error.Details = typed.Details()
	}

	ctx := c.Request.Context()
	if meta.HTTPStatus >= http.StatusInternalServerError {
		logger.Ctx(ctx).Error().Err(err).Str("error_code", string(typed.Code())).Msg("request.error")
	} else {
		logger.Ctx(ctx).Debug().Err(err).Str("error_code", string(typed.Code())).Msg("request.rejected")
	}

	c.AbortWithStatusJSON(meta.HTTPStatus, payload)
}

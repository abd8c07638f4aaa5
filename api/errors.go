package api

import (
	"errors"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskhub/domain"
)

const problemContentType = "application/problem+json"

// ErrDuplicateRequest is returned when an Idempotency-Key was already used.
var ErrDuplicateRequest = errors.New("a request with this idempotency key was already processed")

// Problem is an RFC 7807 error body.
type Problem struct {
	Type   string              `json:"type,omitempty"`
	Title  string              `json:"title"`
	Status int                 `json:"status"`
	Detail string              `json:"detail,omitempty"`
	Errors map[string][]string `json:"errors,omitempty"`
}

func (p *Problem) Error() string {
	if p.Detail != "" {
		return p.Detail
	}
	return p.Title
}

// problemFor classifies err. The bool is false when err is unexpected and its
// detail must not reach the client.
func problemFor(err error) (*Problem, bool) {
	var p *Problem
	if errors.As(err, &p) {
		return p, true
	}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		pr := &Problem{Status: http.StatusBadRequest, Title: "Validation failed", Detail: verr.Error()}
		if verr.Field != "" {
			pr.Errors = map[string][]string{verr.Field: {verr.Message}}
		}
		return pr, true
	}
	var terr *domain.IllegalTransitionError
	if errors.As(err, &terr) {
		return &Problem{Status: http.StatusBadRequest, Title: "Invalid operation", Detail: terr.Error()}, true
	}
	var nerr *domain.NotFoundError
	if errors.As(err, &nerr) {
		return &Problem{Status: http.StatusNotFound, Title: "Not found", Detail: nerr.Error()}, true
	}
	if errors.Is(err, domain.ErrForbidden) {
		return &Problem{Status: http.StatusForbidden, Title: "Forbidden", Detail: "you may not modify this resource"}, true
	}
	if errors.Is(err, ErrDuplicateRequest) {
		return &Problem{Status: http.StatusConflict, Title: "Duplicate request", Detail: ErrDuplicateRequest.Error()}, true
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		title := http.StatusText(he.Code)
		detail := ""
		if msg, ok := he.Message.(string); ok && msg != title {
			detail = msg
		}
		return &Problem{Status: he.Code, Title: title, Detail: detail}, true
	}
	return &Problem{Status: http.StatusInternalServerError, Title: "An error occurred while processing your request"}, false
}

func writeProblem(c echo.Context, p *Problem) error {
	body, err := sonic.ConfigStd.Marshal(p)
	if err != nil {
		return err
	}
	return c.Blob(p.Status, problemContentType, body)
}

// ErrorHandler renders handler errors as problem+json.
func ErrorHandler(logger *log.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		p, known := problemFor(err)
		if !known {
			logger.WithError(err).WithFields(log.Fields{
				"method": c.Request().Method,
				"path":   c.Request().URL.Path,
			}).Error("request failed")
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(p.Status)
		} else {
			err = writeProblem(c, p)
		}
		if err != nil {
			logger.WithError(err).Error("write error response")
		}
	}
}

package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"skillmarket/backend/internal/fault"
)

// ProblemDetails is an RFC 7807 error body. The fault kind travels in Type so
// clients can branch without parsing the detail text.
type ProblemDetails struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

var kindStatus = map[fault.Kind]int{
	fault.KindNotInstalled:        http.StatusForbidden,
	fault.KindVersionLocked:       http.StatusConflict,
	fault.KindNotApproved:         http.StatusForbidden,
	fault.KindRateLimited:         http.StatusTooManyRequests,
	fault.KindSuspended:           http.StatusTooManyRequests,
	fault.KindInsufficientCredits: http.StatusPaymentRequired,
	fault.KindSkillNotFound:       http.StatusNotFound,
	fault.KindStepInputInvalid:    http.StatusBadRequest,
	fault.KindExecutorError:       http.StatusInternalServerError,
	fault.KindStorageUnavailable:  http.StatusServiceUnavailable,
	fault.KindNotVisible:          http.StatusForbidden,
	fault.KindNotFound:            http.StatusNotFound,
	fault.KindInvalidState:        http.StatusConflict,
}

// problem translates an error into a problem+json response. Fault kinds map
// to stable status codes; anything else is a 500 with a generic detail.
func problem(c echo.Context, err error) error {
	kind := fault.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	detail := "internal error"
	title := "internal"
	if ok {
		detail = err.Error()
		title = string(kind)
	}

	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, ProblemDetails{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// badRequest is a shortcut for malformed request bodies.
func badRequest(c echo.Context, detail string) error {
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(http.StatusBadRequest, ProblemDetails{
		Type:   "about:blank",
		Title:  "bad_request",
		Status: http.StatusBadRequest,
		Detail: detail,
	})
}

// Package http exposes the warehouse read API: stored history, the latest
// record per symbol, health and Prometheus metrics.
package http

import (
	"net/http"

	"github.com/go-chi/render"

	"gexhaus/internal/errs"
)

// Problem is the JSON error body, loosely after RFC 7807.
type Problem struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

// Render implements render.Renderer.
func (p *Problem) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, p.Status)
	return nil
}

// problemFromError maps the error taxonomy onto HTTP statuses.
func problemFromError(err error) *Problem {
	status := http.StatusInternalServerError
	title := "internal error"

	switch errs.KindOf(err) {
	case errs.KindValidation:
		status = http.StatusBadRequest
		title = "invalid request"
	case errs.KindInsufficientData, errs.KindInsufficientHistory:
		status = http.StatusUnprocessableEntity
		title = "insufficient data"
	case errs.KindVendorUnavailable:
		status = http.StatusBadGateway
		title = "vendor unavailable"
	case errs.KindStorageConflict:
		status = http.StatusConflict
		title = "storage conflict"
	case errs.KindComputation:
		status = http.StatusUnprocessableEntity
		title = "computation failed"
	}

	return &Problem{Status: status, Title: title, Detail: err.Error()}
}

func badRequest(detail string) *Problem {
	return &Problem{Status: http.StatusBadRequest, Title: "invalid request", Detail: detail}
}

func notFound(detail string) *Problem {
	return &Problem{Status: http.StatusNotFound, Title: "not found", Detail: detail}
}

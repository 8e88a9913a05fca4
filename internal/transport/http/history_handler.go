package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"gexhaus/internal/record"
)

const dateLayout = "2006-01-02"

// HistoryReader is the slice of the storage manager the read API serves
// from.
type HistoryReader interface {
	ReadHistory(ctx context.Context, symbol string, from, to time.Time) ([]record.DailyExposureRecord, error)
	Latest(ctx context.Context, symbol string) (*record.DailyExposureRecord, error)
}

// HistoryHandler serves stored daily exposure records.
type HistoryHandler struct {
	store  HistoryReader
	logger *slog.Logger
}

// NewHistoryHandler creates the history handler.
func NewHistoryHandler(store HistoryReader, logger *slog.Logger) *HistoryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryHandler{
		store:  store,
		logger: logger.With(slog.String("component", "history_handler")),
	}
}

// Routes returns the history routes.
func (h *HistoryHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Route("/{symbol}", func(r chi.Router) {
		r.Use(h.SymbolCtx)
		r.Get("/history", h.GetHistory)
		r.Get("/latest", h.GetLatest)
	})

	return r
}

// SymbolCtx validates the symbol parameter.
func (h *HistoryHandler) SymbolCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		symbol := chi.URLParam(r, "symbol")
		if len(symbol) < 1 || len(symbol) > 10 {
			render.Render(w, r, badRequest("symbol must be 1-10 characters"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// historyResponse wraps a history query result.
type historyResponse struct {
	Symbol  string                       `json:"symbol"`
	From    string                       `json:"from"`
	To      string                       `json:"to"`
	Count   int                          `json:"count"`
	Records []record.DailyExposureRecord `json:"records"`
}

// GetHistory serves GET /{symbol}/history?from=YYYY-MM-DD&to=YYYY-MM-DD.
// The range defaults to the trailing year.
func (h *HistoryHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	to := time.Now().UTC().Truncate(24 * time.Hour)
	from := to.AddDate(-1, 0, 0)

	var err error
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err = time.Parse(dateLayout, raw); err != nil {
			render.Render(w, r, badRequest("from: expected YYYY-MM-DD"))
			return
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = time.Parse(dateLayout, raw); err != nil {
			render.Render(w, r, badRequest("to: expected YYYY-MM-DD"))
			return
		}
	}
	if to.Before(from) {
		render.Render(w, r, badRequest("to precedes from"))
		return
	}

	records, err := h.store.ReadHistory(r.Context(), symbol, from, to)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "history query failed",
			"symbol", symbol,
			"error", err,
		)
		render.Render(w, r, problemFromError(err))
		return
	}
	if records == nil {
		records = []record.DailyExposureRecord{}
	}

	render.JSON(w, r, historyResponse{
		Symbol:  symbol,
		From:    from.Format(dateLayout),
		To:      to.Format(dateLayout),
		Count:   len(records),
		Records: records,
	})
}

// GetLatest serves GET /{symbol}/latest.
func (h *HistoryHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	rec, err := h.store.Latest(r.Context(), symbol)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "latest query failed",
			"symbol", symbol,
			"error", err,
		)
		render.Render(w, r, problemFromError(err))
		return
	}
	if rec == nil {
		render.Render(w, r, notFound("no records for "+symbol))
		return
	}

	render.JSON(w, r, rec)
}

package handler

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dunglas/httpsfv"

	"storefront/internal/catalog"
	"storefront/internal/middleware"
	"storefront/internal/model"
)

// SheetsEventHeader optionally describes the spreadsheet change behind a
// webhook call, as an RFC 8941 dictionary:
//
//	Sheets-Event: sheet="Products", rows=42, change=edit
const SheetsEventHeader = "Sheets-Event"

type syncResponse struct {
	Result *catalog.SyncResult `json:"result"`
	Status catalog.Status      `json:"status"`
}

// sheetsEvent is the parsed Sheets-Event header. Unknown keys are ignored.
type sheetsEvent struct {
	Sheet  string
	Rows   int64
	Change string
}

// parseSheetsEvent decodes the Sheets-Event header.
func parseSheetsEvent(header string) (*sheetsEvent, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, errors.New("empty Sheets-Event header")
	}

	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return nil, fmt.Errorf("invalid Sheets-Event header: %w", err)
	}

	ev := &sheetsEvent{}
	for _, name := range dict.Names() {
		member, _ := dict.Get(name)
		item, ok := member.(httpsfv.Item)
		if !ok {
			return nil, fmt.Errorf("%s must be an item", name)
		}
		switch name {
		case "sheet":
			s, ok := item.Value.(string)
			if !ok {
				return nil, errors.New("sheet must be a string")
			}
			ev.Sheet = s
		case "rows":
			n, ok := item.Value.(int64)
			if !ok || n < 0 {
				return nil, errors.New("rows must be a non-negative integer")
			}
			ev.Rows = n
		case "change":
			switch v := item.Value.(type) {
			case httpsfv.Token:
				ev.Change = string(v)
			case string:
				ev.Change = v
			default:
				return nil, errors.New("change must be a token or string")
			}
		}
	}
	return ev, nil
}

// handleSheetsWebhook re-syncs the catalog when the spreadsheet changes.
// The bearer token must match the webhook secret; with no secret configured
// every call is rejected. Fetch failures are retried with backoff, auth
// failures against the sheet are not.
// POST /webhook/sheets
func (h *Handler) handleSheetsWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.webhookSecret == "" {
		h.logger.ErrorContext(ctx, "webhook rejected, no webhook secret configured",
			slog.String("request_id", middleware.RequestIDFrom(ctx)),
		)
		h.writeError(w, r, model.NewUnauthorizedError("webhook authentication failed"))
		return
	}
	if !h.validWebhookToken(r) {
		h.logger.WarnContext(ctx, "webhook rejected, bad token",
			slog.String("remote", r.RemoteAddr),
			slog.String("request_id", middleware.RequestIDFrom(ctx)),
		)
		h.writeError(w, r, model.NewUnauthorizedError("webhook authentication failed"))
		return
	}

	attrs := []any{slog.String("request_id", middleware.RequestIDFrom(ctx))}
	if raw := r.Header.Get(SheetsEventHeader); raw != "" {
		ev, err := parseSheetsEvent(raw)
		if err != nil {
			h.logger.WarnContext(ctx, "ignoring malformed Sheets-Event header", slog.String("error", err.Error()))
		} else {
			attrs = append(attrs,
				slog.String("sheet", ev.Sheet),
				slog.Int64("rows", ev.Rows),
				slog.String("change", ev.Change),
			)
		}
	}
	h.logger.InfoContext(ctx, "sheets webhook received", attrs...)

	result, err := h.syncer.SyncWithRetry(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, syncResponse{Result: result, Status: h.cache.Status()})
}

func (h *Handler) validWebhookToken(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.webhookSecret)) == 1
}

// handleAdminSync fetches the catalog once, without retries.
// POST /admin/sync
func (h *Handler) handleAdminSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.syncer.Sync(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, syncResponse{Result: result, Status: h.cache.Status()})
}

// handleSyncStatus reports cache freshness.
// GET /admin/sync/status
func (h *Handler) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.cache.Status())
}

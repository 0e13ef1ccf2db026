package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/solwatch/solwatch/service/ledger"
)

// TransferReader is the read-only store surface the query API consumes.
type TransferReader interface {
	ListTransfers(ctx context.Context) ([]ledger.TransferRecord, error)
}

// handleListTransfers returns a handler serving the full current record set
// as a JSON array.
// GET /transactions
//
// On store failure the endpoint degrades to an empty array with 200 rather
// than an error status. That behavior is part of the API's contract;
// the X-Degraded header is the out-of-band signal that distinguishes a
// degraded response from a genuinely empty store.
func handleListTransfers(store TransferReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		records, err := store.ListTransfers(r.Context())
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list transfers, degrading to empty set",
				"error", err,
			)
			w.Header().Set("X-Degraded", "true")
			writeJSON(w, []ledger.TransferRecord{}, http.StatusOK)
			return
		}

		if records == nil {
			records = []ledger.TransferRecord{}
		}

		logger.DebugContext(r.Context(), "transfers listed", "count", len(records))
		writeJSON(w, records, http.StatusOK)
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

package api

import (
	"fmt"
	"net/http"

	"github.com/sungwon/mail-dispatch/internal/dispatch"
	"github.com/sungwon/mail-dispatch/internal/unsubscribe"
)

type unsubscribeResponse struct {
	Message     string `json:"message"`
	Email       string `json:"email"`
	OperationID string `json:"operation_id"`
}

// UnsubscribeHandler handles GET /api/Unsubscribe?UnsubscribeKey=...
// The allow-list does not apply: anyone holding a link may use it.
func UnsubscribeHandler(d Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, fmt.Sprintf("Requests method %s is not allowed.", r.Method))
			return
		}

		query := r.URL.Query()
		if len(query) == 0 {
			respondError(w, http.StatusBadRequest, "UnsubscribeKey is missing as no query parameters have been specified.")
			return
		}
		token := query.Get(unsubscribe.QueryKey)
		if token == "" {
			respondError(w, http.StatusBadRequest, "UnsubscribeKey is either missing or empty")
			return
		}

		rec, err := d.Unsubscribe(r.Context(), token)
		if err != nil {
			respondDispatchError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, unsubscribeResponse{
			Message:     dispatch.UnsubscribeMessage(rec),
			Email:       rec.EmailRecipient,
			OperationID: rec.OperationID,
		})
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sungwon/mail-dispatch/internal/dispatch"
	"github.com/sungwon/mail-dispatch/internal/logger"
	"github.com/sungwon/mail-dispatch/internal/message"
	"github.com/sungwon/mail-dispatch/internal/unsubscribe"
)

// maxBodyBytes bounds a POST body. CustomContent alone may be 5000
// characters of up to four bytes each, plus HTML and text templates.
const maxBodyBytes = 1 << 20

// Dispatcher runs parsed send and unsubscribe requests.
type Dispatcher interface {
	Send(ctx context.Context, in dispatch.SendInput) (*dispatch.Result, error)
	Unsubscribe(ctx context.Context, token string) (unsubscribe.Record, error)
}

// SendOptions configures SendMailHandler.
type SendOptions struct {
	Defaults            message.Defaults
	TrustForwardedProto bool
}

type sendResponse struct {
	Message        string `json:"message"`
	Status         string `json:"status"`
	CorrelationID  string `json:"correlation_id"`
	MessageID      string `json:"message_id"`
	UnsubscribeURL string `json:"unsubscribe_url,omitempty"`
}

// SendMailHandler handles GET and POST on a send endpoint.
// GET builds the message from defaults and query parameters; POST from
// defaults and a JSON body. The request is then dispatched over t.
func SendMailHandler(d Dispatcher, t dispatch.Transport, opts SendOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		req := message.NewRequest(opts.Defaults, time.Now())

		switch r.Method {
		case http.MethodGet:
			if err := req.ApplyQuery(r.URL.Query()); err != nil {
				respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid query parameter: %v", err))
				return
			}
		case http.MethodPost:
			status, msg := decodeBody(w, r, req)
			if status != 0 {
				respondError(w, status, msg)
				return
			}
		default:
			respondError(w, http.StatusMethodNotAllowed, fmt.Sprintf("Requests method %s is not allowed.", r.Method))
			return
		}

		log.Debug().
			Str("transport", t.String()).
			Str("mode", req.Mode.String()).
			Str("method", r.Method).
			Msg("send request parsed")

		res, err := d.Send(r.Context(), dispatch.SendInput{
			Transport: t,
			Request:   req,
			CallerIP:  callerIP(r),
			Scheme:    requestScheme(r, opts.TrustForwardedProto),
			Host:      r.Host,
		})
		if err != nil {
			respondDispatchError(w, err)
			return
		}

		resp := sendResponse{
			Message:       res.Message(),
			Status:        res.Status,
			CorrelationID: res.CorrelationID,
			MessageID:     res.MessageID,
		}
		if res.UnsubscribeURL != message.FallbackUnsubscribeURL {
			resp.UnsubscribeURL = res.UnsubscribeURL
		}
		respondJSON(w, http.StatusOK, resp)
	}
}

// decodeBody applies a JSON body onto req. Fields present in the body
// replace the defaults; absent fields keep them. A non-zero status means
// the body was rejected.
func decodeBody(w http.ResponseWriter, r *http.Request, req *message.Request) (int, string) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return http.StatusBadRequest, "Invalid content type. Expected application/json."
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return http.StatusRequestEntityTooLarge, "Request body is too large."
		}
		return http.StatusUnprocessableEntity, "Unable to read request body."
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return http.StatusUnprocessableEntity, "Unable to read request body."
	}

	if err := json.Unmarshal(body, req); err != nil {
		return http.StatusBadRequest, "Unable to deserialize request body."
	}
	return 0, ""
}

// callerIP returns the remote address without its port.
func callerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// middleware.RealIP stores a bare address.
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

func requestScheme(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
			return proto
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

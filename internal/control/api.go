package control

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/courier/internal/core/domain"
	"github.com/vietddude/courier/internal/tiering/resilience"
	"github.com/vietddude/courier/internal/tiering/selection"
)

// submitRequest is the inbound message envelope.
type submitRequest struct {
	ID        string `json:"id"`
	Recipient string `json:"recipient"`
	Payload   []byte `json:"payload"`
	Priority  string `json:"priority"` // critical, high, normal, low
}

// submitResponse reports the delivery outcome.
type submitResponse struct {
	ID         string        `json:"id"`
	Delivered  bool          `json:"delivered"`
	Tier       domain.TierID `json:"tier,omitempty"`
	Attempts   int           `json:"attempts"`
	FailedOver bool          `json:"failed_over"`
	LatencyMS  int64         `json:"latency_ms"`
	Error      string        `json:"error,omitempty"`
}

// submitHandler accepts messages for delivery. The request blocks until
// the message is delivered, exhausts every tier, or is shed.
func (c *Courier) submitHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Recipient == "" {
			http.Error(w, "recipient required", http.StatusBadRequest)
			return
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}

		out, err := c.Deliver(r.Context(), domain.Message{
			ID:        req.ID,
			Recipient: req.Recipient,
			Payload:   req.Payload,
			Priority:  domain.ParsePriority(req.Priority),
			CreatedAt: time.Now().UTC(),
		})

		resp := submitResponse{
			ID:         req.ID,
			Delivered:  err == nil,
			Tier:       out.Tier,
			Attempts:   out.Attempts,
			FailedOver: out.FailedOver,
			LatencyMS:  out.Latency.Milliseconds(),
		}

		w.Header().Set("Content-Type", "application/json")
		switch {
		case err == nil:
			w.WriteHeader(http.StatusOK)
		case errors.Is(err, resilience.ErrQueueShed):
			resp.Error = err.Error()
			w.WriteHeader(http.StatusServiceUnavailable)
		case errors.Is(err, selection.ErrNoAvailableTier):
			resp.Error = err.Error()
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			resp.Error = err.Error()
			w.WriteHeader(http.StatusBadGateway)
		}
		json.NewEncoder(w).Encode(resp)
	})
}

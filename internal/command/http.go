package command

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-core/pkg/types"
)

// SubmitRequest is the wire shape of one command submission. Routing and
// transport policy (TLS, auth beyond the bearer token, CORS) belong to
// whatever process embeds this router — spec.md §6 scopes the command
// channel's framing out of this module, so only the DTOs and a mountable
// handler live here.
type SubmitRequest struct {
	Kind             string           `json:"kind"`
	Symbol           string           `json:"symbol,omitempty"`
	Side             types.OrderSide  `json:"side,omitempty"`
	Volume           *decimal.Decimal `json:"volume,omitempty"`
	SL               *decimal.Decimal `json:"sl,omitempty"`
	TP               *decimal.Decimal `json:"tp,omitempty"`
	Reason           string           `json:"reason,omitempty"`
	Ticket           types.Ticket     `json:"ticket,omitempty"`
	CloseVolume      *decimal.Decimal `json:"close_volume,omitempty"`
	ModifySL         *decimal.Decimal `json:"modify_sl,omitempty"`
	ModifyTP         *decimal.Decimal `json:"modify_tp,omitempty"`
	ShutdownMode     string           `json:"shutdown_mode,omitempty"`
	DeadlineSeconds  int              `json:"deadline_seconds,omitempty"`
}

// SubmitResponse is the wire shape of a Result.
type SubmitResponse struct {
	CommandID string `json:"command_id"`
	Accepted  bool   `json:"accepted"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NewRouter builds a mux.Router exposing the command queue over HTTP. The
// embedder mounts it (behind whatever TLS/CORS/auth layer it already runs)
// rather than this module standing up its own listener.
func NewRouter(q *Queue) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/commands", submitHandler(q)).Methods(http.MethodPost)
	return r
}

func submitHandler(q *Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body SubmitRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		cmd := Command{
			ID:           uuid.NewString(),
			Kind:         Kind(body.Kind),
			Symbol:       body.Symbol,
			Side:         body.Side,
			Reason:       body.Reason,
			Ticket:       body.Ticket,
			ShutdownMode: ShutdownMode(body.ShutdownMode),
		}
		if body.Volume != nil {
			cmd.Volume = *body.Volume
		}
		cmd.SL = body.SL
		cmd.TP = body.TP
		cmd.CloseVolume = body.CloseVolume
		cmd.ModifySL = body.ModifySL
		cmd.ModifyTP = body.ModifyTP
		if body.DeadlineSeconds > 0 {
			cmd.Deadline = time.Now().Add(time.Duration(body.DeadlineSeconds) * time.Second)
		}

		token := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
		result := q.Submit(cmd, token, time.Now())

		resp := SubmitResponse{CommandID: result.CommandID, Accepted: result.Accepted, Reason: string(result.Reason)}
		if result.Err != nil {
			resp.Error = result.Err.Error()
		}

		w.Header().Set("Content-Type", "application/json")
		if !result.Accepted {
			w.WriteHeader(http.StatusAccepted)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

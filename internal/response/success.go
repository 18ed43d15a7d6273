package response

import (
	"encoding/json"
	"net/http"
)

type SuccessEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// WriteSuccess wraps data in the success envelope. Marshalling happens
// before the header is written so an encode failure can still produce a
// proper 500 instead of a truncated body.
func (h *responseHandler) WriteSuccess(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(SuccessEnvelope{Success: true, Data: data})
	if err != nil {
		h.Log.Error("failed to encode success response", "error", err)
		http.Error(w, `{"success":false}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

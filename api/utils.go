package api

import (
	"encoding/json"
	"net/http"

	"Mail2Ledger/api/constants"
	"Mail2Ledger/internal/logger"
)

// RespondWithError writes {"success": false, "error": errMsg}.
func RespondWithError(w http.ResponseWriter, status int, errMsg string) {
	log := logger.L()
	log.Warn().Int("status", status).Msg(errMsg)
	w.Header().Set(constants.ContentTypeText, constants.ContentTypeJSON)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errMsg,
	})
}

// RespondWithPayload sends a consistent JSON response and includes an arbitrary payload
func RespondWithPayload(w http.ResponseWriter, status int, success bool, errMsg string, payload interface{}) {
	w.Header().Set(constants.ContentTypeText, constants.ContentTypeJSON)
	w.WriteHeader(status)
	resp := map[string]interface{}{"success": success}
	if !success && errMsg != "" {
		resp["error"] = errMsg
	}
	if payload != nil {
		// use a conventional key `rows` for list payloads
		resp["rows"] = payload
	}
	json.NewEncoder(w).Encode(resp)
}

// RespondWithJSON writes v as the whole body.
func RespondWithJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set(constants.ContentTypeText, constants.ContentTypeJSON)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

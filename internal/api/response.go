package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/BookPipe/internal/models"
)

// fallbackErrorBody is written when a response cannot be encoded.
const fallbackErrorBody = `{"status":"error","message":"Internal server error"}`

// writeJSONResponse encodes body before touching headers so an encoding
// failure can still become a clean 500.
func writeJSONResponse(w http.ResponseWriter, statusCode int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		slog.Error("Server response encode failed", "error", err, "status", statusCode)
		data = []byte(fallbackErrorBody)
		statusCode = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(data); err != nil {
		slog.Error("Server response write failed", "error", err)
	}
}

// writeError writes a models.Error envelope.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSONResponse(w, statusCode, models.Error(message))
}

// Package response writes the JSON bodies of the file server.
package response

import (
	"encoding/json"
	"net/http"
)

type envelope struct {
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func write(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}

// Success sends a 200 with data.
func Success(w http.ResponseWriter, data any) {
	write(w, http.StatusOK, envelope{Status: http.StatusOK, Data: data})
}

// Error sends status with a message.
func Error(w http.ResponseWriter, status int, message string) {
	write(w, status, envelope{Status: status, Message: message})
}

func NotFound(w http.ResponseWriter) { Error(w, http.StatusNotFound, "Not found") }

func Forbidden(w http.ResponseWriter) { Error(w, http.StatusForbidden, "Forbidden") }

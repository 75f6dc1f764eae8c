// Package testutil holds helpers shared by package tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// NewJSONServer starts an httptest server for handler and closes it when the
// test ends.
func NewJSONServer(t testing.TB, handler func(http.ResponseWriter, *http.Request)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(server.Close)
	return server
}

// WriteJSON writes body as a JSON response with status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// GraphError writes a Graph API error payload.
func GraphError(w http.ResponseWriter, status int, code int, message string) {
	WriteJSON(w, status, map[string]any{"error": map[string]any{
		"type":    "OAuthException",
		"code":    code,
		"message": message,
	}})
}

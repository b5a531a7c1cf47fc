package api

import (
	"encoding/json"
	"net/http"
)

// wireError is the {"error": "..."} body returned for every non-2xx
// response, per spec.md §6's error code contract.
type wireError struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(wireError{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, err error)   { writeError(w, http.StatusBadRequest, err.Error()) }
func notFound(w http.ResponseWriter, err error)      { writeError(w, http.StatusNotFound, err.Error()) }
func conflict(w http.ResponseWriter, err error)      { writeError(w, http.StatusConflict, err.Error()) }
func unauthorized(w http.ResponseWriter, msg string) { writeError(w, http.StatusUnauthorized, msg) }
func internalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, err.Error())
}

package handlers

import "net/http"

// HealthHandler reports liveness at the root path.
type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "callwire bridge is running"})
}

// NotFoundHandler answers unrouted paths with the canonical JSON error shape.
type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, r, http.StatusNotFound, errTypeNotFound, "not found")
}

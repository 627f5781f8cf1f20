package server

import (
	"net/http"
)

// Version is reported by the health endpoint
var Version = "dev"

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"version": Version,
		"service": "frontier",
	}

	writeJSON(w, http.StatusOK, response, s.log)
}

package handlers

import (
	"net/http"

	"github.com/ubuntu/anomaly-explorer/internal/common/constants"
	"github.com/ubuntu/anomaly-explorer/internal/webservice/metrics"
)

// VersionHandler handles requests to the /version endpoint.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"version": constants.Version})
}

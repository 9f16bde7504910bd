package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
)

// VersionResponse is the /version payload.
type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
}

var (
	versionMu   sync.RWMutex
	versionInfo = VersionResponse{Version: "dev"}
)

// SetVersion records build metadata for the /version endpoint.
func SetVersion(version, commit, buildDate string) {
	versionMu.Lock()
	defer versionMu.Unlock()
	versionInfo = VersionResponse{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
	}
}

// VersionHandler serves build metadata.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	versionMu.RLock()
	info := versionInfo
	versionMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(info)
}

package handlers

import (
	"net/http"
	"sync"
	"time"
)

// VersionResponse is the body of GET /version.
type VersionResponse struct {
	Version   string    `json:"version"`
	Commit    string    `json:"commit,omitempty"`
	BuildDate string    `json:"build_date,omitempty"`
	Time      time.Time `json:"time"`
}

var (
	versionMu   sync.RWMutex
	versionInfo = VersionResponse{Version: "dev"}
)

// SetVersionInfo records the build metadata served by /version.
func SetVersionInfo(version, commit, buildDate string) {
	versionMu.Lock()
	defer versionMu.Unlock()
	versionInfo = VersionResponse{Version: version, Commit: commit, BuildDate: buildDate}
}

// VersionHandler serves the build metadata.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	versionMu.RLock()
	resp := versionInfo
	versionMu.RUnlock()
	resp.Time = time.Now().UTC()
	writeJSON(w, http.StatusOK, resp)
}

package handlers

import (
	"encoding/json"
	"net/http"
)

// VersionInfo is the build identity reported by /version.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
}

// VersionHandler returns a handler reporting the build identity.
func VersionHandler(info VersionInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(info)
	}
}

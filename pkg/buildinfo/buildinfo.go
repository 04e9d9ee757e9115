// Package buildinfo reports the version the digest binary was built from.
package buildinfo

import (
	"encoding/json"
	"net/http"
	"runtime"
	"runtime/debug"
	"time"
)

// These vars are set at build time via ldflags:
// -X github.com/yf-hk/ai-meeting-digest/pkg/buildinfo.Version=v0.3.0
// -X github.com/yf-hk/ai-meeting-digest/pkg/buildinfo.Commit=4f1c2e9
// -X github.com/yf-hk/ai-meeting-digest/pkg/buildinfo.BuildTime=2026-10-01T09:00:00Z
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var startedAt = time.Now()

// Info holds build information for a service.
type Info struct {
	ServiceName string `json:"service_name"`
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	BuildTime   string `json:"build_time"`
	GoVersion   string `json:"go_version"`
	StartedAt   string `json:"started_at"`
	Uptime      string `json:"uptime"`
}

// Get returns build info for the named service. When Commit was not set by
// ldflags, the VCS revision recorded by the toolchain is used if present.
func Get(serviceName string) Info {
	return Info{
		ServiceName: serviceName,
		Version:     Version,
		Commit:      commit(),
		BuildTime:   BuildTime,
		GoVersion:   runtime.Version(),
		StartedAt:   startedAt.UTC().Format(time.RFC3339),
		Uptime:      time.Since(startedAt).Truncate(time.Second).String(),
	}
}

// String returns a human-readable one-liner like "v0.3.0 (4f1c2e9, 2026-10-01T09:00:00Z)"
func String() string {
	return Version + " (" + commit() + ", " + BuildTime + ")"
}

func commit() string {
	if Commit != "unknown" {
		return Commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Commit
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return s.Value[:7]
		}
	}
	return Commit
}

// Handler returns an HTTP handler that responds with build info JSON.
func Handler(serviceName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Get(serviceName))
	}
}

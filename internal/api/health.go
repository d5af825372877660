package api

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"

	"votingrelay.mini/vrm/internal/types"
)

// @Title: Get Health
// @Route: GET /api/health
// @Description: Returns server health status
// @Response: {"status": "ok"}
func (s *Service) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// @Title: Get Version
// @Route: GET /api/version
// @Description: Returns vrm version and build information
// @Response: {"version": "...", "status": "ok", "build_time": "..."}
func (s *Service) HandleVersion(w http.ResponseWriter, r *http.Request) {
	hostname, _ := os.Hostname()

	s.writeJSON(w, http.StatusOK, map[string]string{
		"version":    types.Version,
		"build_time": types.BuildTime,
		"status":     "ok",
		"hostname":   hostname,
		"go_ver":     runtime.Version(),
		"os_arch":    fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	})
}

// @Title: Get Relay Status
// @Route: GET /api/relay/status
// @Description: Returns the relay address, ledger owner, owner match and next nonce
// @Response: {"address": "0x...", "owner": "0x...", "ownerMatch": true, "nextNonce": 3, "chainId": "...", "latestHeight": 10}
func (s *Service) HandleRelayStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st, err := s.relay.Status(r.Context())
	if err != nil {
		s.writeRelayError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

// @Title: Get Activity
// @Route: GET /api/logs?limit=50
// @Description: Returns recent relay outcomes, newest first
// @Response: [{"timestamp": "...", "level": "info", "op": "vote", "transactionId": "...", "text": "..."}]
func (s *Service) HandleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	s.writeJSON(w, http.StatusOK, s.logger.GetRecent(limit))
}

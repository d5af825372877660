package api

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// @Title: Back Up Ledger
// @Route: POST /api/ledger/backup
// @Description: Copies the in-process ledger database into its backups directory (dev chain only)
// @Response: {"status": "ok", "path": "..."}
func (s *Service) HandleLedgerBackup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.archive == nil {
		s.writeError(w, http.StatusNotFound, "ledger is not hosted by this process")
		return
	}

	backupPath, err := s.archive.BackupCurrent(s.MaxBackups)
	if err != nil {
		s.log.Error("ledger backup failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to save ledger backup")
		return
	}

	s.logger.Info(fmt.Sprintf("ledger backup written to %s", backupPath))
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"path":   backupPath,
	})
}

// @Title: Download Ledger Snapshot
// @Route: GET /api/ledger/export
// @Description: Downloads a consistent SQLite snapshot of the in-process ledger (dev chain only)
// @Response: application/vnd.sqlite3 file download
func (s *Service) HandleLedgerExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.archive == nil {
		s.writeError(w, http.StatusNotFound, "ledger is not hosted by this process")
		return
	}

	snapshot, err := s.archive.ExportSnapshot()
	if err != nil {
		s.log.Error("ledger snapshot failed", zap.Error(err))
		http.Error(w, "Failed to export ledger snapshot", http.StatusInternalServerError)
		return
	}

	filename := fmt.Sprintf("vrm-ledger-%s.db", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.sqlite3")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	if _, err := w.Write(snapshot); err != nil {
		s.log.Debug("write snapshot", zap.Error(err))
		return
	}
	s.logger.Info(fmt.Sprintf("served ledger snapshot %s", filename))
}

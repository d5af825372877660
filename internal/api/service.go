// Package api implements the JSON endpoints of the vrm relay: voter
// registration, vote submission, candidate and voter reads, relay status
// and the activity feed. Routes are mounted by internal/web.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"votingrelay.mini/vrm/internal/logger"
	"votingrelay.mini/vrm/internal/relay"
	"votingrelay.mini/vrm/internal/types"
)

// Relayer submits election operations and reports on the relay credential.
type Relayer interface {
	Register(ctx context.Context, voter string) (types.Receipt, error)
	Unregister(ctx context.Context, voter string) (types.Receipt, error)
	Vote(ctx context.Context, voter string, candidateID uint64) (types.Receipt, error)
	Status(ctx context.Context) (relay.Status, error)
}

// ElectionReader answers read-only election queries.
type ElectionReader interface {
	Candidates(ctx context.Context) ([]types.Candidate, error)
	Voter(ctx context.Context, addr string) (types.Voter, error)
}

// Archive is the ledger store when the ledger runs in this process.
type Archive interface {
	BackupCurrent(maxBackups int) (string, error)
	ExportSnapshot() ([]byte, error)
}

// DocRenderer renders an operator document to HTML.
type DocRenderer interface {
	GetDoc(ctx context.Context, name string) (string, error)
	ListDocs() ([]string, error)
}

// Service handles API requests
type Service struct {
	relay   Relayer
	reader  ElectionReader
	logger  *logger.Logger
	archive Archive
	docs    DocRenderer
	log     *zap.Logger

	MaxBackups int
}

// NewService creates a new API service. archive and docs may be nil.
func NewService(r Relayer, reader ElectionReader, feed *logger.Logger, archive Archive, docs DocRenderer, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if feed == nil {
		feed = logger.New(200)
	}
	return &Service{
		relay:      r,
		reader:     reader,
		logger:     feed,
		archive:    archive,
		docs:       docs,
		log:        log.Named("api"),
		MaxBackups: 100,
	}
}

// Logger returns the activity feed served at /api/logs.
func (s *Service) Logger() *logger.Logger {
	return s.logger
}

// writeJSON writes a JSON response
func (s *Service) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Debug("write response", zap.Error(err))
	}
}

// writeError writes a JSON error response
func (s *Service) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// failure is the body of every unsuccessful mutating request.
type failure struct {
	Success       bool   `json:"success"`
	Error         string `json:"error"`
	Kind          string `json:"kind"`
	Reason        string `json:"reason,omitempty"`
	Retryable     bool   `json:"retryable"`
	TransactionID string `json:"transactionId,omitempty"`
}

// writeRelayError maps a relay outcome onto an HTTP status and the failure
// body. Errors that are not relay errors are reported as internal.
func (s *Service) writeRelayError(w http.ResponseWriter, err error) {
	var rerr *relay.Error
	if !errors.As(err, &rerr) {
		s.log.Error("unexpected relay error", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, failure{Error: err.Error(), Kind: "Internal"})
		return
	}
	s.writeJSON(w, statusFor(rerr.Kind), failure{
		Error:         rerr.Error(),
		Kind:          string(rerr.Kind),
		Reason:        rerr.Reason,
		Retryable:     rerr.Retryable(),
		TransactionID: rerr.TxHash,
	})
}

func statusFor(kind relay.Kind) int {
	switch kind {
	case relay.KindInvalidRequest:
		return http.StatusBadRequest
	case relay.KindNotRegistered:
		return http.StatusForbidden
	case relay.KindUnknownCandidate:
		return http.StatusNotFound
	case relay.KindAlreadyVoted:
		return http.StatusConflict
	case relay.KindUnauthorized:
		// The relay itself is misconfigured, not the caller.
		return http.StatusInternalServerError
	case relay.KindTransportFailure:
		return http.StatusServiceUnavailable
	case relay.KindSubmissionTimeout:
		return http.StatusGatewayTimeout
	case relay.KindRejected:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Package tendermint hosts the election application for an external
// Tendermint node and talks to that node over JSON-RPC.
//
// The ledger process runs an ABCI server on a socket; Tendermint runs as a
// separate process, connects to the socket and drives consensus. The relay
// never links the application: it only speaks JSON-RPC to the node.
package tendermint

import (
	"errors"
	"fmt"
	"os"
	"strings"

	abciserver "github.com/tendermint/tendermint/abci/server"
	abci "github.com/tendermint/tendermint/abci/types"
	tmlog "github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"
	"go.uber.org/zap"
)

// DefaultSocket is the ABCI address used when none is configured.
const DefaultSocket = "unix://vrm.sock"

// SocketServer serves one application on an ABCI socket.
type SocketServer struct {
	svc  service.Service
	addr string
}

// NewSocketServer prepares a server for app on addr ("unix://vrm.sock" or
// "tcp://127.0.0.1:26658"). Server logs go to log.
func NewSocketServer(app abci.Application, addr string, log *zap.Logger) (*SocketServer, error) {
	if app == nil {
		return nil, errors.New("abci application is nil")
	}
	if addr == "" {
		addr = DefaultSocket
	}
	if log == nil {
		log = zap.NewNop()
	}
	svc := abciserver.NewSocketServer(addr, app)
	svc.SetLogger(zapLogger{log.Named("abci").Sugar()})
	return &SocketServer{svc: svc, addr: addr}, nil
}

// Addr is the listen address.
func (s *SocketServer) Addr() string { return s.addr }

func (s *SocketServer) Running() bool { return s.svc.IsRunning() }

// Start listens for Tendermint's connections.
func (s *SocketServer) Start() error {
	if err := s.svc.Start(); err != nil {
		return fmt.Errorf("abci server on %s: %w", s.addr, err)
	}
	return nil
}

// Stop closes the listener and removes a unix socket file left behind.
func (s *SocketServer) Stop() error {
	if s.svc.IsRunning() {
		if err := s.svc.Stop(); err != nil {
			return fmt.Errorf("stop abci server: %w", err)
		}
	}
	if path, ok := strings.CutPrefix(s.addr, "unix://"); ok {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// zapLogger routes Tendermint's key/value logging into zap.
type zapLogger struct {
	s *zap.SugaredLogger
}

func (l zapLogger) Debug(msg string, keyvals ...interface{}) { l.s.Debugw(msg, keyvals...) }
func (l zapLogger) Info(msg string, keyvals ...interface{})  { l.s.Infow(msg, keyvals...) }
func (l zapLogger) Error(msg string, keyvals ...interface{}) { l.s.Errorw(msg, keyvals...) }

func (l zapLogger) With(keyvals ...interface{}) tmlog.Logger {
	return zapLogger{l.s.With(keyvals...)}
}

package tendermint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	abci "github.com/tendermint/tendermint/abci/types"
	"go.uber.org/zap/zaptest"
)

func TestNewSocketServer(t *testing.T) {
	_, err := NewSocketServer(nil, "", nil)
	require.Error(t, err)

	srv, err := NewSocketServer(abci.NewBaseApplication(), "", nil)
	require.NoError(t, err)
	require.Equal(t, DefaultSocket, srv.Addr())
	require.False(t, srv.Running())
}

func TestSocketServerStartStop(t *testing.T) {
	addr := "unix://" + filepath.Join(t.TempDir(), "app.sock")
	srv, err := NewSocketServer(abci.NewBaseApplication(), addr, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, srv.Start())
	require.True(t, srv.Running())
	require.NoError(t, srv.Stop())
	require.False(t, srv.Running())
	require.NoError(t, srv.Stop())
}

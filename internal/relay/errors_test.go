package relay

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"votingrelay.mini/vrm/internal/abci"
)

func TestErrorForCode(t *testing.T) {
	cases := map[uint32]Kind{
		abci.CodeTypeUnauthorized:     KindUnauthorized,
		abci.CodeTypeNotRegistered:    KindNotRegistered,
		abci.CodeTypeAlreadyVoted:     KindAlreadyVoted,
		abci.CodeTypeUnknownCandidate: KindUnknownCandidate,
		abci.CodeTypeBadNonce:         KindRejected,
		abci.CodeTypeEncodingError:    KindRejected,
	}
	for code, want := range cases {
		err := errorForCode(code, "reason", "ABCD")
		require.Equal(t, want, err.Kind, "code %d", code)
		require.Equal(t, "ABCD", err.TxHash)
	}
}

func TestErrorMatchingAndFlags(t *testing.T) {
	inner := errors.New("dial tcp: refused")
	err := fmt.Errorf("submit: %w", &Error{Kind: KindTransportFailure, Reason: "broadcast failed", Err: inner})

	require.ErrorIs(t, err, ErrTransportFailure)
	require.NotErrorIs(t, err, ErrRejected)
	require.ErrorIs(t, err, inner)
	require.Equal(t, KindTransportFailure, KindOf(err))
	require.Equal(t, Kind(""), KindOf(inner))

	final := &Error{Kind: KindAlreadyVoted}
	require.True(t, final.Final())
	require.False(t, final.Retryable())
	require.Contains(t, (&Error{Kind: KindNotRegistered, Reason: "voter is not registered", TxHash: "AB"}).Error(), "tx AB")
}

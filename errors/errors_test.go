package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCode(t *testing.T) {
	req := require.New(t)

	req.Equal("name_taken", Code(fmt.Errorf("%w: alice", ErrNameTaken)))
	req.Equal("not_a_member", Code(fmt.Errorf("%w: team", ErrNotAMember)))
	req.Equal("protocol_error", Code(ErrProtocol))
	req.Equal(CodeTransferError, Code(fmt.Errorf("%w: 3 of 10 bytes", ErrTransferTruncated)))
	req.Equal(CodeTransferError, Code(ErrConnectionLost))
	req.Equal(CodeInternal, Code(fmt.Errorf("%w: disk full", ErrPersistence)))
	req.Equal(CodeInternal, Code(fmt.Errorf("unexpected")))
}

func TestIsFatal(t *testing.T) {
	req := require.New(t)

	req.True(IsFatal(fmt.Errorf("relay: %w", ErrTransferTruncated)))
	req.True(IsFatal(ErrConnectionLost))
	req.False(IsFatal(ErrNoReachableTarget))
	req.False(IsFatal(nil))
}

func TestIsBusy(t *testing.T) {
	req := require.New(t)

	busy := fmt.Errorf("%w: writer held for over 1s", ErrPeerBusy)
	req.True(IsBusy(busy))
	req.ErrorIs(busy, ErrPeerUnreachable)
	req.False(IsBusy(ErrPeerUnreachable))
	req.False(IsFatal(busy))
	req.Equal(CodeInternal, Code(busy))
}

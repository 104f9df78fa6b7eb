package errors

import (
	"errors"
	"fmt"
)

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")

	// Handshake
	ErrNameTaken   = fmt.Errorf("name_taken")
	ErrInvalidName = fmt.Errorf("invalid_name")

	// Group directory
	ErrNoSuchGroup   = fmt.Errorf("no_such_group")
	ErrAlreadyExists = fmt.Errorf("already_exists")
	ErrAlreadyMember = fmt.Errorf("already_member")
	ErrForbidden     = fmt.Errorf("forbidden")
	ErrTargetOffline = fmt.Errorf("target_offline")
	ErrPersistence   = fmt.Errorf("persistence_failure")

	// Routing
	ErrNotAMember        = fmt.Errorf("not_a_member")
	ErrNoSuchTarget      = fmt.Errorf("no_such_target")
	ErrNoReachableTarget = fmt.Errorf("no_reachable_target")
	ErrPeerUnreachable   = fmt.Errorf("peer_unreachable")
	ErrPeerBusy          = fmt.Errorf("%w: writer busy", ErrPeerUnreachable)
	ErrTransferTruncated = fmt.Errorf("transfer_truncated")
	ErrConnectionLost    = fmt.Errorf("connection_lost")

	// Protocol
	ErrProtocol       = fmt.Errorf("protocol_error")
	ErrFrameTooLarge  = fmt.Errorf("frame too large")
	ErrInvalidRequest = fmt.Errorf("invalid_request")
)

const (
	CodeInternal      = "internal error"
	CodeTransferError = "transfer_error"
)

// codes lists the errors that are reported to clients verbatim.
var codes = []error{
	ErrNameTaken, ErrInvalidName,
	ErrNoSuchGroup, ErrAlreadyExists, ErrAlreadyMember, ErrForbidden, ErrTargetOffline,
	ErrNotAMember, ErrNoSuchTarget, ErrNoReachableTarget,
	ErrInvalidRequest, ErrProtocol,
}

// Code maps an error to the short code sent in an ERRO frame.
// Anything that is not part of the client-facing taxonomy is reported as an internal error.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c) {
			return c.Error()
		}
	}
	if IsFatal(err) {
		return CodeTransferError
	}
	return CodeInternal
}

// IsFatal reports whether err leaves the sender's own stream unusable, in
// which case its session must end.
func IsFatal(err error) bool {
	return errors.Is(err, ErrTransferTruncated) || errors.Is(err, ErrConnectionLost)
}

// IsBusy reports whether a write gave up waiting for a connection's writer.
// Nothing was written, so the peer's stream is still in sync.
func IsBusy(err error) bool {
	return errors.Is(err, ErrPeerBusy)
}

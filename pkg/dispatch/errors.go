package dispatch

import "github.com/cuemby/frontdoor/pkg/ferrors"

func protocolViolation(format string, args ...any) error {
	return ferrors.New(ferrors.KindProtocolViolation, format, args...)
}

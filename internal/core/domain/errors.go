package domain

import "errors"

var (
	ErrStreamNotFound         = errors.New("stream not found")
	ErrNotConnected           = errors.New("not connected")
	ErrNoDisplayCapture       = errors.New("display capture is not supported")
	ErrNoMediaRequested       = errors.New("neither audio nor video requested")
	ErrAcquisitionSuperseded  = errors.New("media acquisition superseded")
	ErrUnknownJoinKind        = errors.New("unknown join message")
	ErrParametersNotSupported = errors.New("sender does not support parameter changes")
)

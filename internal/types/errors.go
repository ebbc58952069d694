package types

import "errors"

var (
	// ErrSourceUnavailable means the camera or file could not be opened.
	ErrSourceUnavailable = errors.New("frame source unavailable")
	// ErrStreamEnded means the file is exhausted or the device stopped delivering frames.
	ErrStreamEnded = errors.New("stream ended")
	// ErrInvalidTimestamp is returned when a submit timestamp does not advance.
	ErrInvalidTimestamp = errors.New("submit timestamp must be strictly increasing")
	// ErrAnalysisInit means the analysis engine failed to start.
	ErrAnalysisInit = errors.New("analysis engine initialization failed")
	// ErrTransmit marks a dropped telemetry datagram.
	ErrTransmit = errors.New("telemetry transmit failed")
)

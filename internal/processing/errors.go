package processing

import "errors"

// Terminal failure kinds surfaced through the completion channel. None of
// them are retried automatically; a retry is a fresh submission with a new
// job id.
var (
	// ErrImageSaveFailed covers local encode or disk failures, both before
	// submission and when persisting a decoded result.
	ErrImageSaveFailed = errors.New("processing: failed to save image")
	// ErrInvalidResponse covers responses matching no decodable shape,
	// undecodable image payloads, and non-2xx statuses.
	ErrInvalidResponse = errors.New("processing: invalid response from server")
	// ErrNetwork covers transport-level failures: connection loss, timeout,
	// cancellation.
	ErrNetwork = errors.New("processing: network error")
	// ErrJobActive is returned when a submission starts while another job is
	// still active on the same state machine.
	ErrJobActive = errors.New("processing: a job is already active")
)

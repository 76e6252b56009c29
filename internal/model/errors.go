// ABOUTME: Error taxonomy shared by fetch, channel and store components
// ABOUTME: Sentinels are matched with errors.Is after wrapping

package model

import "errors"

// Sync errors
var (
	ErrNetwork             = errors.New("network error")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotFound            = errors.New("not found")
	ErrChannelDisconnected = errors.New("channel disconnected")
)

// Retryable reports whether the user may retry the operation that produced err.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrChannelDisconnected)
}

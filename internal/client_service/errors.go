package client_service

import "errors"

var (
	// ErrOfflineUnavailable marks a read that needs content the cache
	// does not hold while the client cannot reach the server.
	ErrOfflineUnavailable = errors.New("content unavailable while offline")

	// ErrJournalReplayFailed marks a replay that exhausted its retry
	// budget without reaching a terminal outcome.
	ErrJournalReplayFailed = errors.New("journal replay failed")

	ErrInvalidHandle = errors.New("invalid file handle")
)

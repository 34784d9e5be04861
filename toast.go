package main

import (
	"errors"
)

var (
	errRateLimited    = errors.New("rate limit exceeded, slow down")
	errSessionRunning = errors.New("a session is already running")
	errNoSession      = errors.New("no session is running")
	errViewerAction   = errors.New("viewers cannot act")
)

// errorCode maps an error to the machine-readable code sent with ERROR.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidPlayerCount):
		return "INVALID_PLAYER_COUNT"
	case errors.Is(err, ErrMalformedAction):
		return "MALFORMED"
	case errors.Is(err, ErrInvalidTarget):
		return "INVALID_TARGET"
	case errors.Is(err, ErrSeatDead):
		return "SEAT_DEAD"
	case errors.Is(err, ErrWrongPhase), errors.Is(err, ErrNoWindow):
		return "WRONG_PHASE"
	case errors.Is(err, ErrAlreadySubmitted):
		return "ALREADY_SUBMITTED"
	case errors.Is(err, ErrNotEligible), errors.Is(err, errViewerAction):
		return "NOT_ELIGIBLE"
	case errors.Is(err, errRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, errSessionRunning), errors.Is(err, errNoSession):
		return "SESSION_STATE"
	}
	return "ERROR"
}

// sendErrorToast tells one connection that its message was refused. Nothing
// else sees it and it never enters a session timeline.
func sendErrorToast(c *Client, err error) {
	DebugLog("sendErrorToast", "%s: %v", c.label(), err)
	c.sendJSON(Event{Type: EventError, Fields: Fields{
		"code":    errorCode(err),
		"message": err.Error(),
	}})
}

package main

import "errors"

var (
	ErrInvalidPlayerCount = errors.New("player count must be between 5 and 12")
	ErrMalformedAction    = errors.New("malformed action")
	ErrInvalidTarget      = errors.New("invalid target")
	ErrSeatDead           = errors.New("seat is not alive")
	ErrNotEligible        = errors.New("seat may not take this action")
	ErrWrongPhase         = errors.New("action not accepted in this phase")
	ErrNoWindow           = errors.New("no action window is open")
	ErrAlreadySubmitted   = errors.New("seat already acted in this window")
	ErrSessionCancelled   = errors.New("session cancelled")
)

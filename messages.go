package main

import (
	"encoding/json"
	"fmt"
	"strings"
)

// WSMessage is an inbound message from a connection.
type WSMessage struct {
	Type         string `json:"type"`
	PlayerCount  int    `json:"playerCount,omitempty"`
	ObserverMode bool   `json:"observerMode,omitempty"`
	Text         string `json:"text,omitempty"`
	To           string `json:"to,omitempty"`
	ActionType   string `json:"actionType,omitempty"`
	Target       string `json:"target,omitempty"`
}

const (
	msgConfig      = "CONFIG"
	msgSpeech      = "SPEECH"
	msgSpeechSkip  = "SPEECH_SKIP"
	msgVote        = "VOTE"
	msgSheriffVote = "SHERIFF_VOTE"
	msgNightAction = "NIGHT_ACTION"
)

func parseWSMessage(data []byte) (WSMessage, error) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return WSMessage{}, fmt.Errorf("%w: %v", ErrMalformedAction, err)
	}
	msg.Type = strings.ToUpper(strings.TrimSpace(msg.Type))
	if msg.Type == "" {
		return WSMessage{}, fmt.Errorf("%w: missing type", ErrMalformedAction)
	}
	return msg, nil
}

// toAction converts a game message from seatID into an Action.
func (m WSMessage) toAction(seatID string) (Action, error) {
	switch m.Type {
	case msgSpeech:
		return NewSpeech(seatID, m.Text)
	case msgSpeechSkip:
		return NewSpeechSkip(seatID), nil
	case msgVote:
		return NewBallot(ActionVote, seatID, m.To)
	case msgSheriffVote:
		return NewBallot(ActionSheriffVote, seatID, m.To)
	case msgNightAction:
		kind, ok := nightActionKind(m.ActionType)
		if !ok {
			return Action{}, fmt.Errorf("%w: unknown actionType %q", ErrMalformedAction, m.ActionType)
		}
		if kind == ActionWitchSave {
			return NewSave(seatID)
		}
		act, err := newTargeted(kind, seatID, m.Target)
		return act.WithChat(m.Text), err
	}
	return Action{}, fmt.Errorf("%w: unknown message type %q", ErrMalformedAction, m.Type)
}

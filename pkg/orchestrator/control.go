package orchestrator

import "encoding/json"

// controlType tags an inbound control message (§6).
type controlType string

const (
	controlSessionStart controlType = "session.start"
	controlSessionEnd   controlType = "session.end"
	controlHeartbeat    controlType = "heartbeat"
)

type controlMessage struct {
	Type      controlType `json:"type"`
	SessionID string      `json:"sessionId"`
	Language  string      `json:"language,omitempty"`
}

func parseControlMessage(payload []byte) (controlMessage, error) {
	var ctrl controlMessage
	if err := json.Unmarshal(payload, &ctrl); err != nil {
		return controlMessage{}, err
	}
	return ctrl, nil
}

package gateway

import "time"

// controlMessage is the JSON shape carried on WebSocket text frames, per
// the external interface contract: {"type": "ping"|"pong"|"heartbeat"|...}.
type controlMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func pingMessage() controlMessage {
	return controlMessage{Type: "ping", Timestamp: time.Now().Unix()}
}

func pongMessage(echoTimestamp int64) controlMessage {
	return controlMessage{Type: "pong", Timestamp: echoTimestamp}
}

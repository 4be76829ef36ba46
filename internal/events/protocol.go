package events

import (
	"encoding/json"
	"fmt"
	"regexp"
)

const (
	ProtocolJSON     = "json"
	ProtocolProtobuf = "protobuf"

	subprotocolJSON     = "json.cms-sync.v1"
	subprotocolProtobuf = "protobuf.cms-sync.v1"

	// GroupAll receives every event regardless of language.
	GroupAll = "all"
)

var groupPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,31}$`)

// Upstream message types for internal routing
type (
	subscribeRequest struct {
		group string
		ackID *uint64
	}
	unsubscribeRequest struct {
		group string
		ackID *uint64
	}
	pingRequest struct{}
)

// upstreamMessage is what subscribers send. It is JSON for both protocols.
type upstreamMessage struct {
	Type     string  `json:"type"`
	Language string  `json:"language"`
	AckID    *uint64 `json:"ackId,omitempty"`
}

func parseUpstreamMessage(data []byte) (any, error) {
	var msg upstreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal upstream message: %w", err)
	}

	switch msg.Type {
	case "subscribe":
		return &subscribeRequest{group: msg.Language, ackID: msg.AckID}, nil
	case "unsubscribe":
		return &unsubscribeRequest{group: msg.Language, ackID: msg.AckID}, nil
	case "ping":
		return &pingRequest{}, nil
	default:
		return nil, fmt.Errorf("unknown message type: %q", msg.Type)
	}
}

func isValidGroup(group string) bool {
	return group == GroupAll || groupPattern.MatchString(group)
}

func buildConnectedMessage(connectionID, protocol string, groups []string) []byte {
	data, _ := json.Marshal(map[string]any{
		"type":         "system",
		"event":        "connected",
		"connectionId": connectionID,
		"protocol":     protocol,
		"groups":       groups,
	})
	return data
}

func buildAckMessage(ackID uint64, success bool) []byte {
	data, _ := json.Marshal(map[string]any{
		"type":    "ack",
		"ackId":   ackID,
		"success": success,
	})
	return data
}

func buildPongMessage() []byte {
	data, _ := json.Marshal(map[string]any{"type": "pong"})
	return data
}

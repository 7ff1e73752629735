// Package signaling implements the persistent control-plane connection
// the whole client shares: one authenticated websocket carrying typed
// JSON envelopes for call lifecycle, chat, task invalidation, typing
// indicators, and notifications.
//
// The channel reconnects with linear backoff after unexpected closes,
// heartbeats to keep intermediaries from dropping the connection, and
// fans every inbound envelope out to the handlers subscribed to its
// type. Sends are fire-and-forget: when the connection is down they are
// logged and dropped, never queued.
package signaling

import (
	"encoding/json"
	"fmt"
)

// Message types carried on the control channel. Call lifecycle is one
// category among many; the rest flow through as generic envelopes.
const (
	TypeCallInitiated = "call_initiated"
	TypeCallAccepted  = "call_accepted"
	TypeCallRejected  = "call_rejected"
	TypeCallEnded     = "call_ended"
	TypeMediaState    = "call_media_state"
	TypePing          = "ping"
	TypePong          = "pong"
)

// Event is the canonical internal shape every inbound envelope is
// normalized to before dispatch.
//
// Backends have historically spelled the same logical field several
// ways across message variants (call_id vs callId, caller_id vs
// user_id). Normalization happens once, here, at the boundary; nothing
// downstream ever branches on alternate key names.
type Event struct {
	Type         string
	CallID       string
	CallType     string
	CallerID     string
	CallerName   string
	CallerAvatar string
	GroupID      string
	MediaPath    string

	// Payload is the full decoded envelope for handlers that need
	// fields the canonical set does not cover.
	Payload map[string]any
}

// ParseEvent decodes a raw envelope and normalizes it.
func ParseEvent(data []byte) (Event, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, fmt.Errorf("invalid signaling envelope: %w", err)
	}
	return normalize(raw), nil
}

// normalize maps an envelope's alternate key spellings onto the
// canonical Event fields.
func normalize(raw map[string]any) Event {
	return Event{
		Type:         stringField(raw, "type"),
		CallID:       stringField(raw, "call_id", "callId", "id"),
		CallType:     stringField(raw, "call_type", "callType"),
		CallerID:     stringField(raw, "caller_id", "callerId", "user_id", "userId"),
		CallerName:   stringField(raw, "caller_name", "callerName", "username"),
		CallerAvatar: stringField(raw, "caller_avatar", "avatar_url", "avatarUrl"),
		GroupID:      stringField(raw, "group_id", "groupId"),
		MediaPath:    stringField(raw, "media_ws_path", "mediaPath", "media_path"),
		Payload:      raw,
	}
}

// stringField returns the first non-empty string among the given keys.
func stringField(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := raw[key]; ok {
			switch s := v.(type) {
			case string:
				if s != "" {
					return s
				}
			case float64:
				return fmt.Sprintf("%.0f", s)
			}
		}
	}
	return ""
}

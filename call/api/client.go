// Package api implements the REST client for backend call control.
// Creating, accepting, rejecting, and ending calls all round-trip
// through the backend so it stays the source of truth for call rosters;
// the realtime leg (signaling, media relay) is handled elsewhere.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Errors returned by the client.
var (
	// ErrBackendRejection wraps any non-2xx backend answer.
	ErrBackendRejection = errors.New("backend rejected call operation")

	// ErrCallAlreadyActive is the specific rejection for accepting a
	// call the backend already considers active. Callers treat it as
	// success.
	ErrCallAlreadyActive = errors.New("call is already active")
)

// Participant is one member of a call roster.
type Participant struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
}

// VideoCall is the backend's representation of a call.
type VideoCall struct {
	ID           string        `json:"id"`
	CallType     string        `json:"call_type"`
	GroupID      string        `json:"group_id,omitempty"`
	Participants []Participant `json:"participants"`
	MediaPath    string        `json:"media_ws_path,omitempty"`
}

// Client talks to the call-control endpoints with bearer-token auth.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logrus.Logger

	mu    sync.RWMutex
	token string
}

// NewClient creates a client for the given backend root URL.
func NewClient(baseURL string) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("API base URL cannot be empty")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logrus.StandardLogger(),
	}, nil
}

// SetToken installs the bearer token used on subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// CreateCall asks the backend to create a direct call to one user.
func (c *Client) CreateCall(ctx context.Context, receiverID, callType string) (*VideoCall, error) {
	return c.postCall(ctx, "/video-calls", map[string]any{
		"receiver_id": receiverID,
		"call_type":   callType,
	})
}

// CreateGroupCall asks the backend to create a call on a group.
func (c *Client) CreateGroupCall(ctx context.Context, groupID, callType string) (*VideoCall, error) {
	return c.postCall(ctx, "/video-calls", map[string]any{
		"group_id":  groupID,
		"call_type": callType,
	})
}

// AcceptCall marks the call accepted by this user. When the backend
// reports the call already active the error is ErrCallAlreadyActive;
// callers should treat that as success.
func (c *Client) AcceptCall(ctx context.Context, callID string) (*VideoCall, error) {
	return c.postCall(ctx, "/video-calls/"+callID+"/accept", nil)
}

// RejectCall marks the call rejected by this user.
func (c *Client) RejectCall(ctx context.Context, callID string) error {
	_, err := c.postCall(ctx, "/video-calls/"+callID+"/reject", nil)
	return err
}

// EndCall marks the call ended.
func (c *Client) EndCall(ctx context.Context, callID string) error {
	_, err := c.postCall(ctx, "/video-calls/"+callID+"/end", nil)
	return err
}

// Participants fetches the backend's current roster for the call.
func (c *Client) Participants(ctx context.Context, callID string) ([]Participant, error) {
	data, err := c.do(ctx, http.MethodGet, "/video-calls/"+callID+"/participants", nil)
	if err != nil {
		return nil, err
	}
	var list []Participant
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to decode participants: %w", err)
	}
	return list, nil
}

// AddParticipant invites a user into the call and returns the updated
// roster, which is authoritative.
func (c *Client) AddParticipant(ctx context.Context, callID, userID string) ([]Participant, error) {
	data, err := c.do(ctx, http.MethodPost, "/video-calls/"+callID+"/participants", map[string]any{
		"user_id": userID,
	})
	if err != nil {
		return nil, err
	}
	var list []Participant
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to decode participants: %w", err)
	}
	return list, nil
}

// postCall issues a POST expected to return a VideoCall body.
func (c *Client) postCall(ctx context.Context, path string, body map[string]any) (*VideoCall, error) {
	data, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return &VideoCall{}, nil
	}
	var call VideoCall
	if err := json.Unmarshal(data, &call); err != nil {
		return nil, fmt.Errorf("failed to decode call response: %w", err)
	}
	return &call, nil
}

// do issues one request and maps non-2xx answers to the error
// taxonomy.
func (c *Client) do(ctx context.Context, method, path string, body map[string]any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	c.logger.WithFields(logrus.Fields{
		"function": "do",
		"method":   method,
		"path":     path,
	}).Debug("Call API request")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call API request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := serverMessage(data)
		c.logger.WithFields(logrus.Fields{
			"function": "do",
			"path":     path,
			"status":   resp.StatusCode,
			"message":  message,
		}).Warn("Call API request rejected")

		if resp.StatusCode == http.StatusConflict ||
			strings.Contains(strings.ToLower(message), "already active") {
			return nil, ErrCallAlreadyActive
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrBackendRejection, resp.StatusCode, message)
	}

	return data, nil
}

// serverMessage pulls a human-readable error out of a rejection body.
func serverMessage(data []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(data))
}

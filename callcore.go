// Package callcore is the client-side core for real-time calls: call
// signaling, lifecycle management, and media relay over a binary
// packet protocol.
//
// A Client wires the pieces together for a host application:
//
//	cfg := config.Load()
//	client, err := callcore.New(cfg, hostDeviceProvider, userID)
//	if err != nil { ... }
//	if err := client.Init(authToken); err != nil { ... }
//	defer client.Shutdown()
//
//	client.Calls().OnSessionChange(render)
//	client.Calls().InitiateCall(ctx, peer, call.TypeVideo)
//
// The host supplies a device.Provider for camera and microphone
// access; everything else (signaling transport, REST call control,
// codecs, the relay socket) is owned by the client.
package callcore

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/taskforge/callcore/call"
	"github.com/taskforge/callcore/call/api"
	"github.com/taskforge/callcore/config"
	"github.com/taskforge/callcore/device"
	"github.com/taskforge/callcore/signaling"
)

// Client owns the process-wide call infrastructure. Create one per
// authenticated user session.
type Client struct {
	cfg       *config.Config
	apiClient *api.Client
	channel   *signaling.Channel
	manager   *call.Manager
	logger    *logrus.Logger

	mu      sync.Mutex
	started bool
}

// New assembles a client from configuration and the host's device
// provider. The client stays offline until Init.
func New(cfg *config.Config, devices device.Provider, localUserID string) (*Client, error) {
	if devices == nil {
		return nil, errors.New("callcore requires a device provider")
	}
	if localUserID == "" {
		return nil, errors.New("callcore requires a local user ID")
	}
	if cfg == nil {
		cfg = config.Load()
	}

	apiClient, err := api.NewClient(cfg.APIBaseURL)
	if err != nil {
		return nil, err
	}

	channel, err := signaling.NewChannel(cfg.SignalingURL, signaling.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		ReconnectBase:     cfg.ReconnectBase,
		MaxReconnects:     cfg.MaxReconnects,
	})
	if err != nil {
		return nil, err
	}

	manager, err := call.NewManager(call.Options{
		API:         apiClient,
		Channel:     channel,
		Devices:     devices,
		Config:      cfg,
		LocalUserID: localUserID,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:       cfg,
		apiClient: apiClient,
		channel:   channel,
		manager:   manager,
		logger:    logrus.StandardLogger(),
	}, nil
}

// Init brings the client online: the signaling channel connects with
// the auth token and the call manager starts listening. Calling Init
// again refreshes the token.
func (c *Client) Init(token string) error {
	if err := c.channel.Connect(token); err != nil {
		return err
	}
	c.manager.Start(token)

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()

	c.logger.WithField("function", "Init").Info("Call client online")
	return nil
}

// Shutdown tears down any live call and disconnects. The client can
// be revived with Init.
func (c *Client) Shutdown() error {
	c.mu.Lock()
	started := c.started
	c.started = false
	c.mu.Unlock()
	if !started {
		return nil
	}

	c.manager.Stop()
	err := c.channel.Close()
	c.logger.WithField("function", "Shutdown").Info("Call client offline")
	return err
}

// Calls exposes the call lifecycle manager.
func (c *Client) Calls() *call.Manager { return c.manager }

// Signaling exposes the shared signaling channel for non-call
// consumers (chat, notifications, typing indicators).
func (c *Client) Signaling() *signaling.Channel { return c.channel }

// API exposes the REST call-control client.
func (c *Client) API() *api.Client { return c.apiClient }

// Config returns the active configuration.
func (c *Client) Config() *config.Config { return c.cfg }

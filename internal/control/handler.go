// Package control executes JSON commands received over MQTT against the
// running compositor.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/hmd-timewarp/swapprog"
)

// Command represents a control plane command
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// Config contains the control plane topics
type Config struct {
	CommandTopic  string
	ResponseTopic string
	QoS           byte
}

// CommandCallbacks contains callback functions for commands
type CommandCallbacks struct {
	OnGetStatus    func() map[string]interface{}
	OnSetTopology  func(swapprog.Topology)
	OnSetThrottled func(bool)
	OnRecenterYaw  func() error
	OnResetYaw     func() error
	OnPauseVsync   func() error
	OnResumeVsync  func() error
	OnShutdown     func() error
}

// Handler handles control plane commands
type Handler struct {
	cfg      Config
	client   mqtt.Client
	commands chan Command

	mu          sync.RWMutex
	vsyncPaused bool
	callbacks   CommandCallbacks
}

// NewHandler creates a new control plane handler. client may be nil, in
// which case responses are only logged.
func NewHandler(cfg Config, client mqtt.Client, callbacks CommandCallbacks) *Handler {
	if cfg.ResponseTopic == "" {
		cfg.ResponseTopic = cfg.CommandTopic + "/response"
	}
	return &Handler{
		cfg:       cfg,
		client:    client,
		commands:  make(chan Command, 10),
		callbacks: callbacks,
	}
}

// Start starts listening for control commands
func (h *Handler) Start(ctx context.Context) error {
	slog.Info("control: subscribing", "topic", h.cfg.CommandTopic, "qos", h.cfg.QoS)

	token := h.client.Subscribe(h.cfg.CommandTopic, h.cfg.QoS, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control: subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control: subscription failed: %w", err)
	}

	slog.Info("control: handler started")

	go h.processCommands(ctx)
	return nil
}

// Stop unsubscribes. The processing goroutine exits with its context.
func (h *Handler) Stop() error {
	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(h.cfg.CommandTopic)
		token.WaitTimeout(2 * time.Second)
	}

	slog.Info("control: handler stopped")
	return nil
}

func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	h.Enqueue(msg.Payload())
}

// Enqueue parses a raw command and queues it. Invalid JSON is answered
// immediately; a full queue drops the command.
func (h *Handler) Enqueue(payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		slog.Error("control: failed to parse command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control: command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("control: command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.sendResponse(h.handleCommand(cmd))
		}
	}
}

// handleCommand executes a command
func (h *Handler) handleCommand(cmd Command) Response {
	resp := Response{CommandAck: cmd.Command}

	fail := func(msg string) Response {
		resp.Status = "error"
		resp.Error = msg
		return resp
	}
	run := func(fn func() error, data map[string]interface{}) Response {
		if fn == nil {
			return fail(cmd.Command + " not implemented")
		}
		if err := fn(); err != nil {
			return fail(err.Error())
		}
		resp.Status = "success"
		resp.Data = data
		return resp
	}

	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			return fail("get_status not implemented")
		}
		resp.Status = "success"
		resp.Data = h.callbacks.OnGetStatus()
		if resp.Data == nil {
			resp.Data = make(map[string]interface{})
		}
		resp.Data["vsync_paused"] = h.VsyncPaused()
		return resp

	case "set_topology":
		topo, err := topologyFromParams(cmd.Params)
		if err != nil {
			return fail(err.Error())
		}
		if h.callbacks.OnSetTopology == nil {
			return fail("set_topology not implemented")
		}
		h.callbacks.OnSetTopology(topo)
		resp.Status = "success"
		resp.Data = map[string]interface{}{"topology": topo.Name()}
		return resp

	case "set_throttled":
		on, ok := cmd.Params["throttled"].(bool)
		if !ok {
			return fail("missing or invalid 'throttled' parameter (expected bool)")
		}
		if h.callbacks.OnSetThrottled == nil {
			return fail("set_throttled not implemented")
		}
		h.callbacks.OnSetThrottled(on)
		resp.Status = "success"
		resp.Data = map[string]interface{}{"throttled": on}
		return resp

	case "recenter_yaw":
		return run(h.callbacks.OnRecenterYaw, map[string]interface{}{"message": "yaw recentered"})

	case "reset_yaw":
		return run(h.callbacks.OnResetYaw, map[string]interface{}{"message": "yaw correction cleared"})

	case "pause_vsync":
		resp = run(h.callbacks.OnPauseVsync, map[string]interface{}{"vsync_paused": true})
		if resp.Status == "success" {
			h.setVsyncPaused(true)
		}
		return resp

	case "resume_vsync":
		resp = run(h.callbacks.OnResumeVsync, map[string]interface{}{"vsync_paused": false})
		if resp.Status == "success" {
			h.setVsyncPaused(false)
		}
		return resp

	case "shutdown":
		return run(h.callbacks.OnShutdown, map[string]interface{}{"message": "shutting down"})

	default:
		return fail(fmt.Sprintf("unknown command: %s", cmd.Command))
	}
}

// topologyFromParams reads single_thread, dual_mono and front_buffer.
// Missing keys default to false.
func topologyFromParams(params map[string]interface{}) (swapprog.Topology, error) {
	var t swapprog.Topology
	for key, dst := range map[string]*bool{
		"single_thread": &t.SingleThread,
		"dual_mono":     &t.DualMonoDisplay,
		"front_buffer":  &t.FrontBuffer,
	} {
		v, present := params[key]
		if !present {
			continue
		}
		b, ok := v.(bool)
		if !ok {
			return t, fmt.Errorf("invalid '%s' parameter (expected bool)", key)
		}
		*dst = b
	}
	return t, nil
}

func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	if h.client == nil || !h.client.IsConnected() {
		slog.Debug("control: no broker, response not sent",
			"command_ack", resp.CommandAck, "status", resp.Status)
		return
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("control: failed to marshal response", "error", err)
		return
	}

	token := h.client.Publish(h.cfg.ResponseTopic, h.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Error("control: response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("control: failed to publish response", "error", err)
		return
	}

	slog.Debug("control: response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}

// VsyncPaused returns whether the vsync feed was paused by a command.
func (h *Handler) VsyncPaused() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.vsyncPaused
}

func (h *Handler) setVsyncPaused(v bool) {
	h.mu.Lock()
	h.vsyncPaused = v
	h.mu.Unlock()
}

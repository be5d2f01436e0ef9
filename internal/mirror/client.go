// Package mirror implements the presentation-side replica of host device
// state. A Client speaks the bridge wire protocol; a Mirror keeps the
// replica eventually consistent through push events plus a fixed-interval
// reconciliation poll.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/srg/hearlink/internal/bridge"
	"github.com/srg/hearlink/internal/device"
	"github.com/srg/hearlink/internal/events"
	"github.com/srg/hearlink/internal/groutine"
)

// CommandClient is the command/response surface the Mirror runs on.
// Satisfied by Client; tests inject fakes.
type CommandClient interface {
	StartScan(ctx context.Context) error
	StopScan(ctx context.Context) error
	GetDevices(ctx context.Context) ([]device.Device, error)
	Connect(ctx context.Context, id string) error
	Disconnect(ctx context.Context, id string) error

	// Events delivers push envelopes (stateChange, deviceDiscovered,
	// deviceUpdated). Fire-and-forget: old events may have been dropped.
	Events() <-chan bridge.Message
}

// CommandError is a non-success result returned by the host. The message
// is the host's error string, verbatim.
type CommandError struct {
	Channel string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Channel, e.Message)
}

// Client is the WebSocket implementation of CommandClient.
type Client struct {
	conn   *websocket.Conn
	logger *logrus.Logger

	writeMu sync.Mutex

	pendMu  sync.Mutex
	nextID  uint64
	pending map[uint64]chan bridge.Message

	pushes *events.RingChannel[bridge.Message]
	done   chan struct{}
}

// Dial connects to the host bridge at url (e.g. ws://127.0.0.1:8645/ws).
func Dial(ctx context.Context, url string, logger *logrus.Logger) (*Client, error) {
	if logger == nil {
		logger = logrus.New()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to host bridge: %w", err)
	}

	c := &Client{
		conn:    conn,
		logger:  logger,
		pending: make(map[uint64]chan bridge.Message),
		pushes:  events.NewRingChannel[bridge.Message](256),
		done:    make(chan struct{}),
	}

	groutine.Go(nil, "mirror-client-reader", func(context.Context) {
		c.readLoop()
	})

	return c, nil
}

// Close tears down the connection. In-flight calls fail with a closed
// connection error.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Done is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Events implements CommandClient.
func (c *Client) Events() <-chan bridge.Message {
	return c.pushes.C()
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer c.pushes.Close()

	for {
		var msg bridge.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.WithError(err).Warn("Host bridge connection lost")
			}
			c.failPending()
			return
		}

		switch msg.Type {
		case bridge.TypeResult:
			c.pendMu.Lock()
			ch := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.pendMu.Unlock()
			if ch != nil {
				ch <- msg
			}

		case bridge.TypeEvent:
			c.pushes.ForceSend(msg)

		default:
			c.logger.WithField("type", msg.Type).Warn("Ignoring unexpected envelope")
		}
	}
}

func (c *Client) failPending() {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// call issues one command and waits for its correlated result.
func (c *Client) call(ctx context.Context, channel, deviceID string) (bridge.Message, error) {
	c.pendMu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan bridge.Message, 1)
	c.pending[id] = ch
	c.pendMu.Unlock()

	req := bridge.Message{Type: bridge.TypeCommand, ID: id, Channel: channel, DeviceID: deviceID}

	c.writeMu.Lock()
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
		return bridge.Message{}, fmt.Errorf("failed to send %s: %w", channel, err)
	}

	select {
	case <-ctx.Done():
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
		return bridge.Message{}, ctx.Err()
	case reply, ok := <-ch:
		if !ok {
			return bridge.Message{}, errors.New("connection closed")
		}
		return reply, nil
	}
}

// action runs a command whose reply carries only a Result.
func (c *Client) action(ctx context.Context, channel, deviceID string) error {
	reply, err := c.call(ctx, channel, deviceID)
	if err != nil {
		return err
	}
	if reply.Result == nil {
		return fmt.Errorf("%s: malformed result", channel)
	}
	if !reply.Result.Success {
		return &CommandError{Channel: channel, Message: reply.Result.Error}
	}
	return nil
}

// StartScan implements CommandClient.
func (c *Client) StartScan(ctx context.Context) error {
	return c.action(ctx, bridge.CmdStartScan, "")
}

// StopScan implements CommandClient.
func (c *Client) StopScan(ctx context.Context) error {
	return c.action(ctx, bridge.CmdStopScan, "")
}

// Connect implements CommandClient.
func (c *Client) Connect(ctx context.Context, id string) error {
	return c.action(ctx, bridge.CmdConnect, id)
}

// Disconnect implements CommandClient.
func (c *Client) Disconnect(ctx context.Context, id string) error {
	return c.action(ctx, bridge.CmdDisconnect, id)
}

// GetDevices implements CommandClient.
func (c *Client) GetDevices(ctx context.Context) ([]device.Device, error) {
	reply, err := c.call(ctx, bridge.CmdGetDevices, "")
	if err != nil {
		return nil, err
	}
	if reply.Result == nil || !reply.Result.Success {
		msg := "malformed result"
		if reply.Result != nil {
			msg = reply.Result.Error
		}
		return nil, &CommandError{Channel: bridge.CmdGetDevices, Message: msg}
	}
	return reply.Devices, nil
}

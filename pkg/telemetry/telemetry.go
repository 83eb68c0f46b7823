// Package telemetry publishes a running picture of the bridge's state
// to Redis: MNP session transitions, Dock verb activity, and
// status-LED state, using the same hash-write-then-publish pipelining
// and CBOR-encode-then-transport shapes as pkg/settings, giving
// go-redis and cbor a second, independent call site.
package telemetry

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

const (
	hashKey    = "newtdock:telemetry"
	eventsChan = "newtdock:events"
	fieldMNP   = "mnp_state"
	fieldVerb  = "dock_verb"
	fieldLED   = "led_state"
	fieldSnap  = "snapshot"
)

// Client publishes bridge state to Redis the same way
// pkg/redis/client.go's WriteAndPublishString does: write the hash
// field, then publish a short "field:value" notification.
type Client struct {
	redis *redis.Client
	ctx   context.Context
}

// New connects to Redis at addr, matching pkg/redis.New's shape.
// Telemetry is pure observability, so a caller that can't reach Redis
// should simply not wire a Client rather than treat it as fatal.
func New(addr, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("telemetry: failed to connect to redis: %w", err)
	}
	return &Client{redis: client, ctx: ctx}, nil
}

func (c *Client) writeAndPublish(field, value string) error {
	pipe := c.redis.Pipeline()
	pipe.HSet(c.ctx, hashKey, field, value)
	pipe.Publish(c.ctx, eventsChan, fmt.Sprintf("%s:%s", field, value))
	_, err := pipe.Exec(c.ctx)
	return err
}

// PublishMNPState reports an MNP session-state transition (e.g.
// "disconnected", "negotiating", "connected").
func (c *Client) PublishMNPState(state string) error {
	return c.writeAndPublish(fieldMNP, state)
}

// PublishDockVerb reports the most recently dispatched Dock verb.
func (c *Client) PublishDockVerb(verb string) error {
	return c.writeAndPublish(fieldVerb, verb)
}

// PublishLEDState reports the status LED's current color and whether
// it is lit this tick, mirroring pkg/status.Driver.Set's arguments.
func (c *Client) PublishLEDState(color string, on bool) error {
	value := color + ":off"
	if on {
		value = color + ":on"
	}
	return c.writeAndPublish(fieldLED, value)
}

// Snapshot is a point-in-time view of the bridge, CBOR-encoded before
// being written, the way pkg/service/helpers.go's writeUARTMessage
// encodes a payload before handing it to a transport.
type Snapshot struct {
	MNPState    string `cbor:"mnp_state"`
	LastVerb    string `cbor:"last_verb"`
	DTRAsserted bool   `cbor:"dtr_asserted"`
	LEDColor    string `cbor:"led_color"`
}

// PublishSnapshot writes and publishes a full Snapshot as one CBOR blob.
func (c *Client) PublishSnapshot(s Snapshot) error {
	raw, err := cbor.Marshal(s)
	if err != nil {
		return fmt.Errorf("telemetry: failed to encode snapshot: %w", err)
	}
	pipe := c.redis.Pipeline()
	pipe.HSet(c.ctx, hashKey, fieldSnap, raw)
	pipe.Publish(c.ctx, eventsChan, raw)
	_, err = pipe.Exec(c.ctx)
	return err
}

// Close closes the underlying Redis connection.
func (c *Client) Close() error {
	return c.redis.Close()
}

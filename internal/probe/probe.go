// Package probe implements the on-demand request/response path to
// sensors: a minimal CoAP-style GET over UDP. No example repo in the
// retrieval pack vendors a CoAP library, so this is hand-rolled,
// grounded on original_source/fog/app/coap_client.py for the retry,
// timeout, and discovery-path semantics, and on the teacher's
// internal/iot Provider/Registry shape for the concurrent fan-out
// structure.
package probe

import (
	"context"
	"fmt"
	"net"
	"time"
)

// WellKnownPaths is the discovery path list tried in order when the
// caller does not know which resource a sensor exposes.
var WellKnownPaths = []string{"current", "status", "info", "config", "health", "metrics", ".well-known/core"}

const (
	requestTimeout = 5 * time.Second
	maxRetries     = 1 // confirmable semantics: one retry, then give up
)

// Target identifies one sensor to poll.
type Target struct {
	SensorID string
	Host     string
	Port     int
}

// Client issues CoAP-style GETs over UDP.
type Client struct {
	dialTimeout time.Duration
}

// New builds a probe Client.
func New() *Client {
	return &Client{dialTimeout: requestTimeout}
}

// Get issues a single GET to host:port/path and returns the raw JSON
// envelope body. It retries once on any failure before giving up.
func (c *Client) Get(ctx context.Context, host string, port int, path string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		body, err := c.getOnce(ctx, host, port, path)
		if err == nil {
			return body, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("probe: %w", lastErr)
}

func (c *Client) getOnce(ctx context.Context, host string, port int, path string) ([]byte, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.dialTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	request := fmt.Sprintf("GET coap://%s/%s", addr, path)
	if _, err := conn.Write([]byte(request)); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	buf := make([]byte, 8192)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return buf[:n], nil
}

// GetReading issues a GET to a sensor's "current" resource and returns
// the raw response body, mirroring coap_client.py's
// get_sensor_reading.
func (c *Client) GetReading(ctx context.Context, t Target) ([]byte, error) {
	return c.Get(ctx, t.Host, t.Port, "current")
}

// Discover tries every well-known path against a target and reports
// which ones answered, along with their bodies. Each path gets a single
// request with the per-request timeout; a silent path is not retried.
func (c *Client) Discover(ctx context.Context, t Target) map[string][]byte {
	found := make(map[string][]byte)
	for _, path := range WellKnownPaths {
		body, err := c.getOnce(ctx, t.Host, t.Port, path)
		if err != nil {
			continue
		}
		found[path] = body
	}
	return found
}

// PollResult is one sensor's outcome from a fan-out poll.
type PollResult struct {
	SensorID string
	Body     []byte
	Err      error
}

// PollAll queries every target's "current" resource concurrently and
// returns all outcomes, mirroring coap_client.py's poll_sensors.
func (c *Client) PollAll(ctx context.Context, targets []Target) []PollResult {
	results := make([]PollResult, len(targets))
	done := make(chan int, len(targets))

	for i, t := range targets {
		go func(i int, t Target) {
			body, err := c.GetReading(ctx, t)
			results[i] = PollResult{SensorID: t.SensorID, Body: body, Err: err}
			done <- i
		}(i, t)
	}
	for range targets {
		<-done
	}
	return results
}


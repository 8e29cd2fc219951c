// Package upload forwards validated telemetry to the cloud ingest
// endpoint. Structurally grounded on the teacher's upload.go (custom
// http.Client with a forced-HTTP/1.1 transport, Payload/Result shapes,
// Send entrypoint); the retry/backoff and 401-triggered remint behavior
// come from original_source/fog/app/main.py's send_to_cloud.
package upload

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/greenhouse-systems/fog-gateway/internal/svctoken"
	"github.com/greenhouse-systems/fog-gateway/internal/telemetry"
)

// Result holds the HTTP response details of one forward attempt.
type Result struct {
	OK      bool
	Status  int
	Body    string
	Retries int
}

// Forwarder POSTs ProcessedTelemetry to the cloud ingest endpoint,
// attaching the minter's current (cached or re-minted) service token and
// the gateway's API key to every request.
type Forwarder struct {
	url        string
	apiKey     string
	httpClient *http.Client
	minter     *svctoken.Minter
	maxRetries int
	backoff    time.Duration
}

// New builds a Forwarder. cloudURL is the base ingest host; ingest
// requests go to cloudURL + "/api/ingest". apiKey is sent as
// X-API-Key on every request, alongside the minted bearer token.
func New(cloudURL string, timeout time.Duration, apiKey string, minter *svctoken.Minter) *Forwarder {
	return &Forwarder{
		url:    cloudURL,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				// Force HTTP/1.1: Go's HTTP/2 client can hang on POSTs to
				// some CDN-fronted ingest endpoints.
				TLSNextProto: make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),
			},
		},
		minter:     minter,
		maxRetries: 4,
		backoff:    time.Second,
	}
}

// Send forwards one processed record, retrying transient failures with
// exponential backoff and re-minting the service token once if the cloud
// rejects it as expired.
func (f *Forwarder) Send(ctx context.Context, record *telemetry.Processed) Result {
	dto := record.ToCloudDTO(time.Now())
	body, err := json.Marshal(dto)
	if err != nil {
		return Result{OK: false, Body: fmt.Sprintf("marshal error: %v", err)}
	}

	var lastResult Result
	remintedOnce := false
	delay := f.backoff

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		result := f.attempt(ctx, body)
		lastResult = result
		lastResult.Retries = attempt

		if result.OK {
			return lastResult
		}

		if (result.Status == http.StatusUnauthorized || result.Status == http.StatusForbidden) && !remintedOnce {
			remintedOnce = true
			f.minter.Invalidate()
			continue // retry immediately with a fresh token, no backoff
		}

		if !isRetryable(result.Status) || attempt == f.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return Result{OK: false, Body: ctx.Err().Error(), Retries: attempt}
		case <-time.After(delay):
		}
		delay *= 2
	}

	return lastResult
}

func (f *Forwarder) attempt(ctx context.Context, body []byte) Result {
	_, headerValue, err := f.minter.AuthHeader()
	if err != nil {
		return Result{OK: false, Body: fmt.Sprintf("token mint error: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url+"/api/ingest", bytes.NewReader(body))
	if err != nil {
		return Result{OK: false, Body: fmt.Sprintf("request error: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", headerValue)
	req.Header.Set("X-API-Key", f.apiKey)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Result{OK: false, Body: fmt.Sprintf("network error: %v", err)}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	return Result{
		OK:     resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status: resp.StatusCode,
		Body:   string(respBody),
	}
}

func isRetryable(status int) bool {
	if status == 0 {
		return true // network error, no response at all
	}
	return status >= 500
}

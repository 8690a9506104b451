// Package moderation implements the Moderation & Lifecycle component (spec.md §4.7) pieces that do not belong in
// internal/store: the periodic heartbeat to the external authentication authority. The ban set and audit log are
// data-owned by internal/store (spec.md §3 "Ownership: the Store exclusively owns all rows") and are driven from
// internal/httpapi and internal/gateway rather than this package.
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// HeartbeatInterval is the fixed interval between heartbeats, including the one fired immediately at startup
// (spec.md §4.7 "Every 30 seconds (and once at startup)").
const HeartbeatInterval = 30 * time.Second

const heartbeatTimeout = 5 * time.Second

// HeartbeatPayload is the body posted to the authority's heartbeat endpoint (spec.md §4.7).
type HeartbeatPayload struct {
	Name      string `json:"name"`
	PublicURL string `json:"publicUrl"`
	ServerID  string `json:"serverId"`
	Region    string `json:"region"`
	Version   string `json:"version"`
}

// Heartbeater periodically reports node liveness to the external authority. Grounded on
// internal/identity.Resolver's own bare net/http client use (spec.md §4.3 "Issues a GET ..."), the heartbeat is a
// POST against the same authority base URL.
type Heartbeater struct {
	baseURL string
	client  *http.Client
	payload HeartbeatPayload
	log     zerolog.Logger
}

// New builds a Heartbeater that posts payload to baseURL + "/api/hosts/heartbeat" every HeartbeatInterval.
func New(baseURL string, payload HeartbeatPayload, logger zerolog.Logger) *Heartbeater {
	return &Heartbeater{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: heartbeatTimeout},
		payload: payload,
		log:     logger.With().Str("component", "moderation.heartbeat").Logger(),
	}
}

// Run sends one heartbeat immediately, then one every HeartbeatInterval, until ctx is cancelled. Failures are
// logged at debug level and otherwise ignored: spec.md §4.7 "Failures are silent; the node keeps running."
func (h *Heartbeater) Run(ctx context.Context) {
	h.send(ctx)

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.send(ctx)
		}
	}
}

func (h *Heartbeater) send(ctx context.Context) {
	body, err := json.Marshal(h.payload)
	if err != nil {
		h.log.Debug().Err(err).Msg("Failed to encode heartbeat payload")
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, heartbeatTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/hosts/heartbeat", h.baseURL)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		h.log.Debug().Err(err).Msg("Failed to build heartbeat request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		h.log.Debug().Err(err).Msg("Heartbeat request failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		h.log.Debug().Int("status", resp.StatusCode).Msg("Heartbeat rejected by authority")
	}
}

package masterclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/cuemby/fleetscaler/internal/config"
	"github.com/cuemby/fleetscaler/internal/types"
	"github.com/cuemby/fleetscaler/pkg/log"
	"github.com/cuemby/fleetscaler/pkg/metrics"
)

// Client is a typed wrapper over the build master's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
	retries uint64
}

// New creates a Client against baseURL with the given per-request
// timeout (spec.md §4.2's "per-request timeout").
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
			// The master redirects spuriously on some endpoints;
			// treat a 302 as a terminal response instead of paying
			// for a second round trip (spec.md §4.2, §6).
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  log.WithComponent("masterclient"),
		retries: 3,
	}
}

// NotFoundError is returned internally when a request target is absent
// (HTTP 404); DeleteSlot itself treats this as success.
type NotFoundError struct{ Op, Name string }

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("masterclient: %s %s: not found", e.Op, e.Name)
}

// AlreadyExistsError is returned internally when a create-slot target
// already exists; CreateSlot itself treats this as success.
type AlreadyExistsError struct{ Name string }

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("masterclient: slot %s already exists", e.Name)
}

// --- Wire shapes, grounded on Jenkins's computer/api/json and
// queue/api/json payloads. ---

type executorsResponse struct {
	Computer []wireComputer `json:"computer"`
}

type wireComputer struct {
	DisplayName        string           `json:"displayName"`
	Offline            bool             `json:"offline"`
	TemporarilyOffline bool             `json:"temporarilyOffline"`
	Idle               bool             `json:"idle"`
	OfflineCause       json.RawMessage  `json:"offlineCause"`
	OfflineCauseReason string           `json:"offlineCauseReason"`
	AssignedLabels     []wireLabel      `json:"assignedLabels"`
	MonitorData        wireMonitorData  `json:"monitorData"`
	NumExecutors       int              `json:"numExecutors"`
}

type wireLabel struct {
	Name string `json:"name"`
}

type wireMonitorData struct {
	Architecture string `json:"hudson.node_monitors.ArchitectureMonitor"`
}

type wireOfflineCause struct {
	Class string `json:"_class"`
}

type queueResponse struct {
	Items []wireQueueItem `json:"items"`
}

type wireQueueItem struct {
	ID           int64  `json:"id"`
	Why          string `json:"why"`
	InQueueSince int64  `json:"inQueueSince"` // epoch millis
}

// ListExecutors returns every executor known to the master, including
// its own built-in node.
func (c *Client) ListExecutors(ctx context.Context) ([]*types.Executor, error) {
	body, err := c.doJSON(ctx, "list_executors", http.MethodGet, "/computer/api/json", nil)
	if err != nil {
		return nil, err
	}
	var resp executorsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("masterclient: decoding executors: %w", err)
	}

	out := make([]*types.Executor, 0, len(resp.Computer))
	for _, wc := range resp.Computer {
		e := &types.Executor{
			DisplayName:        wc.DisplayName,
			Offline:            wc.Offline,
			TemporarilyOffline: wc.TemporarilyOffline,
			Idle:               wc.Idle,
			NumSlots:           wc.NumExecutors,
			OfflineCauseText:   wc.OfflineCauseReason,
		}
		e.Labels = make(map[types.Label]struct{}, len(wc.AssignedLabels))
		for _, l := range wc.AssignedLabels {
			if l.Name != "" {
				e.Labels[types.Label(l.Name)] = struct{}{}
			}
		}
		e.ArchitectureReported = wc.MonitorData.Architecture != ""
		if wc.Offline && len(wc.OfflineCause) > 0 {
			var cause wireOfflineCause
			if err := json.Unmarshal(wc.OfflineCause, &cause); err == nil && strings.HasPrefix(cause.Class, "hudson.node_monitors") {
				e.OfflineCauseKind = types.OfflineCauseMonitor
			} else if wc.Offline {
				e.OfflineCauseKind = types.OfflineCauseUser
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// ListQueue returns every item currently blocked in the build queue.
func (c *Client) ListQueue(ctx context.Context) ([]*types.QueueItem, error) {
	body, err := c.doJSON(ctx, "list_queue", http.MethodGet, "/queue/api/json", nil)
	if err != nil {
		return nil, err
	}
	var resp queueResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("masterclient: decoding queue: %w", err)
	}
	out := make([]*types.QueueItem, 0, len(resp.Items))
	for _, wi := range resp.Items {
		out = append(out, &types.QueueItem{
			ID:           wi.ID,
			Why:          wi.Why,
			InQueueSince: time.UnixMilli(wi.InQueueSince),
		})
	}
	return out, nil
}

// CreateSlot creates a new node slot named name using the label's slot
// configuration. A slot that already exists is treated as success
// (spec.md §4.2's idempotency rule), mirroring handler.py's
// _create_jenkins_node_slots swallowing "already exists" responses.
func (c *Client) CreateSlot(ctx context.Context, name string, label types.Label, slot config.SlotConfig) error {
	form := url.Values{
		"name": {name},
		"type": {"hudson.slaves.DumbSlave$DescriptorImpl"},
		"json": {string(slotJSON(name, label, slot))},
	}
	_, err := c.doForm(ctx, "create_slot", "/computer/doCreateItem", form)
	var already *AlreadyExistsError
	if err != nil && asError(err, &already) {
		c.logger.Debug().Str("name", name).Msg("slot already exists, treating as success")
		return nil
	}
	return err
}

// SetOffline marks an executor offline carrying reason, e.g. the
// canonical types.DownscaleReason.
func (c *Client) SetOffline(ctx context.Context, name, reason string) error {
	form := url.Values{"offlineMessage": {reason}}
	_, err := c.doForm(ctx, "set_offline", fmt.Sprintf("/computer/%s/toggleOffline", url.PathEscape(name)), form)
	return err
}

// SetOnline brings a previously offline executor back online.
func (c *Client) SetOnline(ctx context.Context, name string) error {
	_, err := c.doForm(ctx, "set_online", fmt.Sprintf("/computer/%s/toggleOffline", url.PathEscape(name)), url.Values{})
	return err
}

// Poll refreshes a single executor's online/idle state.
func (c *Client) Poll(ctx context.Context, name string) (*types.Executor, error) {
	body, err := c.doJSON(ctx, "poll", http.MethodGet, fmt.Sprintf("/computer/%s/api/json", url.PathEscape(name)), nil)
	if err != nil {
		return nil, err
	}
	var wc wireComputer
	if err := json.Unmarshal(body, &wc); err != nil {
		return nil, fmt.Errorf("masterclient: decoding executor %s: %w", name, err)
	}
	e := &types.Executor{
		DisplayName:        wc.DisplayName,
		Offline:            wc.Offline,
		TemporarilyOffline: wc.TemporarilyOffline,
		Idle:               wc.Idle,
		NumSlots:           wc.NumExecutors,
	}
	e.Labels = make(map[types.Label]struct{}, len(wc.AssignedLabels))
	for _, l := range wc.AssignedLabels {
		e.Labels[types.Label(l.Name)] = struct{}{}
	}
	e.ArchitectureReported = wc.MonitorData.Architecture != ""
	return e, nil
}

// DeleteSlot deletes a node slot. A 404 is non-fatal and treated as
// success (spec.md §4.2, §7).
func (c *Client) DeleteSlot(ctx context.Context, name string) error {
	_, err := c.doForm(ctx, "delete_slot", fmt.Sprintf("/computer/%s/doDelete", url.PathEscape(name)), nil)
	var nf *NotFoundError
	if err != nil && asError(err, &nf) {
		return nil
	}
	return err
}

func slotJSON(name string, label types.Label, slot config.SlotConfig) []byte {
	type launcher struct {
		StaplerClass string `json:"stapler-class"`
		Tunnel       string `json:"tunnel"`
	}
	type retention struct {
		StaplerClass string `json:"stapler-class"`
	}
	type restriction struct {
		StaplerClass string `json:"stapler-class,omitempty"`
		Regex        string `json:"labelRestrictionRegex,omitempty"`
	}
	payload := struct {
		Name               string       `json:"name"`
		NodeDescription    string       `json:"nodeDescription"`
		NumExecutors       string       `json:"numExecutors"`
		RemoteFS           string       `json:"remoteFS"`
		LabelString        string       `json:"labelString"`
		Mode               string       `json:"mode"`
		Type               string       `json:"type"`
		RetentionStrategy  retention    `json:"retentionStrategy"`
		Launcher           launcher     `json:"launcher"`
		NodeProperties     map[string]any `json:"nodeProperties"`
		Restriction        *restriction `json:"jobRestriction,omitempty"`
	}{
		Name:            name,
		NodeDescription: slot.Description,
		NumExecutors:    fmt.Sprintf("%d", maxInt(slot.Executors, 1)),
		RemoteFS:        slot.RemoteFS,
		LabelString:     string(label),
		Mode:            modeFor(slot.Exclusive),
		Type:            "hudson.slaves.DumbSlave",
		RetentionStrategy: retention{
			StaplerClass: "hudson.slaves.RetentionStrategy$Always",
		},
		Launcher: launcher{
			StaplerClass: "hudson.slaves.JNLPLauncher",
			Tunnel:       slot.TunnelAddress,
		},
		NodeProperties: map[string]any{"stapler-class-bag": "true"},
	}
	if slot.RestrictionRegex != "" {
		payload.Restriction = &restriction{
			StaplerClass: "jenkins.security.s2m.AdminWhitelistRule",
			Regex:        slot.RestrictionRegex,
		}
	}
	b, _ := json.Marshal(payload)
	return b
}

func modeFor(exclusive bool) string {
	if exclusive {
		return "EXCLUSIVE"
	}
	return "NORMAL"
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// doJSON performs a GET/POST expecting a JSON body back.
func (c *Client) doJSON(ctx context.Context, op, method, path string, body io.Reader) ([]byte, error) {
	return c.do(ctx, op, method, path, body, "")
}

// doForm performs a POST with a form-encoded body, as the master's
// mutating endpoints expect.
func (c *Client) doForm(ctx context.Context, op, path string, form url.Values) ([]byte, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	return c.do(ctx, op, http.MethodPost, path, body, "application/x-www-form-urlencoded")
}

func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string) ([]byte, error) {
	var bodyBytes []byte
	if body != nil {
		bodyBytes, _ = io.ReadAll(body)
	}

	timer := metrics.NewTimer()
	var respBody []byte

	operation := func() error {
		var reader io.Reader
		if bodyBytes != nil {
			reader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			// Transport error: retryable.
			return err
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(&NotFoundError{Op: op, Name: path})
		case resp.StatusCode == http.StatusConflict || (resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(string(b)), "already exists")):
			return backoff.Permanent(&AlreadyExistsError{Name: path})
		case resp.StatusCode == http.StatusFound:
			// Spurious redirect: accept as terminal (spec.md §4.2, §6).
			respBody = b
			return nil
		case resp.StatusCode >= 500:
			// Server error: retryable.
			return fmt.Errorf("masterclient: %s: server error %d", op, resp.StatusCode)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("masterclient: %s: client error %d: %s", op, resp.StatusCode, string(b)))
		}

		respBody = b
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.retries)
	err := backoff.Retry(operation, backoff.WithContext(bo, ctx))
	metrics.MasterRequestDuration.WithLabelValues(op).Observe(timer.Duration().Seconds())

	outcome := "ok"
	if err != nil {
		outcome = "error"
		var nf *NotFoundError
		var ae *AlreadyExistsError
		if asError(err, &nf) || asError(err, &ae) {
			outcome = "expected"
		}
		c.logger.Error().Err(err).Str("op", op).Msg("master request failed")
	}
	metrics.MasterRequestsTotal.WithLabelValues(op, outcome).Inc()

	return respBody, err
}

// asError is a small errors.As convenience wrapper kept local to this
// file so callers above read linearly without importing "errors" for a
// single-use type switch.
func asError[T error](err error, target *T) bool {
	for err != nil {
		if t, ok := err.(T); ok {
			*target = t
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

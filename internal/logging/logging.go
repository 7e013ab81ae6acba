// Package logging wires structured logging with an optional HTTP-forwarding
// handler, mirroring the original supervisor's JsonFormatter and its
// RequestsHandler (QueueHandler/QueueListener) shipping log records to
// WASMIOT_LOGGING_ENDPOINT.
package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// record is the JSON shape forwarded to the orchestrator's logging endpoint.
type record struct {
	Time         time.Time `json:"timestamp"`
	Level        string    `json:"loglevel"`
	Message      string    `json:"message"`
	DeviceName   string    `json:"deviceName,omitempty"`
	RequestID    string    `json:"requestId,omitempty"`
	DeploymentID string    `json:"deploymentId,omitempty"`
	ModuleName   string    `json:"moduleName,omitempty"`
}

// HTTPForwarder asynchronously ships log records to endpoint over HTTP. A
// full queue drops the record rather than blocking the logger, since a log
// shipper must never become the bottleneck of the thing it's logging.
type HTTPForwarder struct {
	endpoint string
	client   *http.Client
	queue    chan []byte
	done     chan struct{}
}

// NewHTTPForwarder starts the forwarder's delivery goroutine.
func NewHTTPForwarder(endpoint string, client *http.Client, buffer int) *HTTPForwarder {
	if client == nil {
		client = http.DefaultClient
	}
	f := &HTTPForwarder{
		endpoint: endpoint,
		client:   client,
		queue:    make(chan []byte, buffer),
		done:     make(chan struct{}),
	}
	go f.loop()
	return f
}

func (f *HTTPForwarder) loop() {
	defer close(f.done)
	for body := range f.queue {
		req, err := http.NewRequest(http.MethodPost, f.endpoint, bytes.NewReader(body))
		if err != nil {
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := f.client.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
	}
}

// Send enqueues body for delivery.
func (f *HTTPForwarder) Send(body []byte) {
	select {
	case f.queue <- body:
	default:
	}
}

// Close stops accepting new records and waits for the delivery goroutine to
// drain what's queued.
func (f *HTTPForwarder) Close() {
	close(f.queue)
	<-f.done
}

// Handler is an slog.Handler that logs through base and additionally ships a
// JSON copy of each record to an HTTPForwarder, when one is configured.
type Handler struct {
	base       slog.Handler
	forwarder  *HTTPForwarder
	deviceName string
}

// NewHandler wraps base. forwarder may be nil to disable shipping.
func NewHandler(base slog.Handler, forwarder *HTTPForwarder, deviceName string) *Handler {
	return &Handler{base: base, forwarder: forwarder, deviceName: deviceName}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.base.Handle(ctx, r); err != nil {
		return err
	}
	if h.forwarder == nil {
		return nil
	}

	rec := record{Time: r.Time, Level: r.Level.String(), Message: r.Message, DeviceName: h.deviceName}
	r.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "request_id":
			rec.RequestID = a.Value.String()
		case "deployment_id":
			rec.DeploymentID = a.Value.String()
		case "module_name":
			rec.ModuleName = a.Value.String()
		}
		return true
	})

	body, err := json.Marshal(rec)
	if err != nil {
		return nil
	}
	h.forwarder.Send(body)
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{base: h.base.WithAttrs(attrs), forwarder: h.forwarder, deviceName: h.deviceName}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{base: h.base.WithGroup(name), forwarder: h.forwarder, deviceName: h.deviceName}
}

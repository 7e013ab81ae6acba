// Package peripherals declares the host-side collaborators the
// host-function catalogue calls into: camera capture, environmental
// sensors, and the RPC table used by communication.rpcCall. These are
// specified only by their signatures and host-side side effects, so this
// package gives them Go interfaces plus the software fallbacks the original
// supervisor itself falls back to when no hardware is attached.
package peripherals

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
)

// Camera captures a single still image, encoded as JPEG bytes.
type Camera interface {
	CaptureJPEG(ctx context.Context) ([]byte, error)
}

// FixtureCamera returns the bytes of a fixture file instead of talking to
// hardware, mirroring general_utils.py's fallback to "./fakeWebcam.jpg" when
// no camera device is available.
type FixtureCamera struct {
	Path string
}

func NewFixtureCamera(path string) *FixtureCamera {
	if path == "" {
		path = "fakeWebcam.jpg"
	}
	return &FixtureCamera{Path: path}
}

func (c *FixtureCamera) CaptureJPEG(context.Context) ([]byte, error) {
	return os.ReadFile(c.Path)
}

// Sensor reads ambient temperature and humidity from an attached DHT22-style
// sensor.
type Sensor interface {
	Temperature(ctx context.Context) (float32, error)
	Humidity(ctx context.Context) (float32, error)
}

// ZeroSensor always reports zero, mirroring the original supervisor's
// Windows/no-hardware fallback path.
type ZeroSensor struct{}

func (ZeroSensor) Temperature(context.Context) (float32, error) { return 0, nil }
func (ZeroSensor) Humidity(context.Context) (float32, error)    { return 0, nil }

// RemoteFunction is one entry of the remote-functions table that
// communication.rpcCall looks a function name up in to find the host URL to
// POST to. The table is handed in through the wazero binding's HostDeps and
// only read; cmd/supervisor passes an empty table and loads none from
// configuration.
type RemoteFunction struct {
	Host string `json:"host"`
}

// RemoteFunctionTable maps a function name to where it can be reached.
type RemoteFunctionTable map[string]RemoteFunction

// HTTPPoster performs the outbound multipart/form-data POST
// communication.rpcCall needs, implementing the wazero binding's RPCPoster
// interface structurally. Mirrors general_utils.py's RpcCall, which POSTs
// files=[("img", data)] with a 120s timeout; the timeout here is the
// caller's responsibility via ctx.
type HTTPPoster struct {
	Client *http.Client
}

func (p HTTPPoster) PostFile(ctx context.Context, url, fieldName string, data []byte) error {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile(fieldName, fieldName)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("rpc post to %s: status %d", url, resp.StatusCode)
	}
	return nil
}

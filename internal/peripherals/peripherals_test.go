package peripherals

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFixtureCameraReadsConfiguredFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fake.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg-bytes"), 0o644))

	cam := NewFixtureCamera(path)
	data, err := cam.CaptureJPEG(context.Background())
	require.NoError(t, err)
	require.Equal(t, "jpeg-bytes", string(data))
}

func TestZeroSensorAlwaysReturnsZero(t *testing.T) {
	var s ZeroSensor
	temp, err := s.Temperature(context.Background())
	require.NoError(t, err)
	require.Equal(t, float32(0), temp)
}

func TestHTTPPosterSendsMultipartFile(t *testing.T) {
	var gotField string
	var gotBytes []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		for field, headers := range r.MultipartForm.File {
			gotField = field
			f, _ := headers[0].Open()
			gotBytes, _ = io.ReadAll(f)
			f.Close()
		}
	}))
	defer srv.Close()

	poster := HTTPPoster{Client: srv.Client()}
	err := poster.PostFile(context.Background(), srv.URL, "img", []byte("payload"))
	require.NoError(t, err)
	require.Equal(t, "img", gotField)
	require.Equal(t, "payload", string(gotBytes))
}

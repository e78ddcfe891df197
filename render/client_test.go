package render

import (
	"context"
	"errors"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/brensch/panotree/space"
)

const testTexture = 2

// sheet builds a tile sheet whose red channel holds the raw row index and
// green channel the column index, so flips and tile offsets are visible.
func sheet(texture int) []byte {
	side := texture * TilesPerSide
	buf := make([]byte, side*side*3)
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			i := (y*side + x) * 3
			buf[i] = byte(y)
			buf[i+1] = byte(x)
			buf[i+2] = 7
		}
	}
	return buf
}

func writeMultipart(t *testing.T, w http.ResponseWriter, parts ...[]byte) {
	t.Helper()
	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/mixed; boundary="+mw.Boundary())
	for _, p := range parts {
		pw, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/octet-stream"}})
		require.NoError(t, err)
		_, err = pw.Write(p)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, WithTextureSize(testTexture))
	require.NoError(t, err)
	return c
}

func cams(n int) []CameraParameter {
	out := make([]CameraParameter, n)
	for i := range out {
		out[i] = NewCameraParameter(r3.Vec{X: float64(i)}, r3.Vec{Y: -1})
	}
	return out
}

func TestRender(t *testing.T) {
	t.Run("cuts flipped tiles in row-major order", func(t *testing.T) {
		var got renderRequest
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/world/render", r.URL.Path)
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(body, &got))
			writeMultipart(t, w, sheet(testTexture))
		})

		images, err := c.Render(context.Background(), cams(8))
		require.NoError(t, err)
		require.Len(t, images, 8)
		require.Len(t, got.CameraParameters, 8)
		require.Equal(t, 60.0, got.CameraParameters[0].FieldOfView)

		side := testTexture * TilesPerSide
		// Tile 0 pixel (0,0) comes from the last raw row.
		r, g, b, a := images[0].At(0, 0).RGBA()
		require.Equal(t, uint32(side-1), r>>8)
		require.Equal(t, uint32(0), g>>8)
		require.Equal(t, uint32(7), b>>8)
		require.Equal(t, uint32(0xff), a>>8)

		// Tile 7 is the second tile of the second row.
		r, g, _, _ = images[7].At(1, 1).RGBA()
		require.Equal(t, uint32(side-1-(testTexture+1)), r>>8)
		require.Equal(t, uint32(testTexture+1), g>>8)
		require.Equal(t, image.Rect(0, 0, testTexture, testTexture), images[7].Bounds())
	})

	t.Run("spills into a second sheet past 36 cameras", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeMultipart(t, w, sheet(testTexture), sheet(testTexture))
		})
		images, err := c.Render(context.Background(), cams(40))
		require.NoError(t, err)
		require.Len(t, images, 40)
	})

	t.Run("missing images are an error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeMultipart(t, w, sheet(testTexture))
		})
		_, err := c.Render(context.Background(), cams(37))
		require.ErrorIs(t, err, ErrMalformedRender)
	})

	t.Run("wrong part size is an error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeMultipart(t, w, []byte{1, 2, 3})
		})
		_, err := c.Render(context.Background(), cams(1))
		require.ErrorIs(t, err, ErrMalformedRender)
	})

	t.Run("non 200 becomes a status error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "scene not loaded", http.StatusServiceUnavailable)
		})
		_, err := c.Render(context.Background(), cams(1))
		var se *StatusError
		require.True(t, errors.As(err, &se))
		require.Equal(t, http.StatusServiceUnavailable, se.Code)
		require.Contains(t, se.Body, "scene not loaded")
	})

	t.Run("no cameras skips the call", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("unexpected request")
		})
		images, err := c.Render(context.Background(), nil)
		require.NoError(t, err)
		require.Empty(t, images)
	})
}

func TestBoundingBox(t *testing.T) {
	t.Run("accepts numbers and strings", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/world/bbox", r.URL.Path)
			_, _ = w.Write([]byte("\xef\xbb\xbf" + `{"bbox":{"min":{"x":"-1.5","y":0,"z":"2"},"max":{"x":4,"y":"3.25","z":9}}}`))
		})
		b, err := c.BoundingBox(context.Background())
		require.NoError(t, err)
		require.Equal(t, space.NewBounds(-1.5, 4, 0, 3.25, 2, 9), b)
	})

	t.Run("rejects inverted boxes", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"bbox":{"min":{"x":5,"y":0,"z":0},"max":{"x":4,"y":1,"z":1}}}`))
		})
		_, err := c.BoundingBox(context.Background())
		require.ErrorIs(t, err, space.ErrInvertedBounds)
	})
}

func TestNodes(t *testing.T) {
	var paths []string
	var pushed updateNodesRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/world/node" {
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(body, &pushed))
			require.NotContains(t, string(body), "parentId")
		}
	})

	require.NoError(t, c.ResetNodes(context.Background()))
	rec := NodeRecord{ID: "0000-00000001", BranchID: 1, Value: 0.5, B: 0.5, Max: Vector3{X: 1, Y: 1, Z: 1}}
	require.NoError(t, c.RecordNode(context.Background(), rec))

	require.Equal(t, []string{"/world/node/reset", "/world/node"}, paths)
	require.Len(t, pushed.Nodes, 1)
	require.Equal(t, rec.ID, pushed.Nodes[0].ID)
	require.Equal(t, 0.5, pushed.Nodes[0].Value)
}

func TestInfoAndConfig(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/info":
			_, _ = w.Write([]byte(`{"version":"1.2","versionInfo":{"majorVersion":1,"minorVersion":2,"buildNumber":3,"revisionNumber":4},"platform":"linux"}`))
		case "/config":
			var req updateConfigRequest
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &req))
			require.Equal(t, 128, req.RendererConfig.TextureSize)
		}
	})

	info, err := c.Info(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1.2.3.4", info.VersionInfo.String())
	require.Equal(t, "linux", info.Platform)

	require.NoError(t, c.SetTextureSize(context.Background(), 128))
	require.Equal(t, 128, c.TextureSize())
}

func TestNewClient(t *testing.T) {
	c, err := NewClient("http://localhost:8080")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080/", c.Endpoint())
	require.Equal(t, DefaultTextureSize, c.TextureSize())

	_, err = NewClient("localhost:8080")
	require.Error(t, err)
}

func TestPair(t *testing.T) {
	ps, err := Pair(cams(2), []float64{0.1, 0.2})
	require.NoError(t, err)
	require.Equal(t, 0.2, ps[1].Score)

	_, err = Pair(cams(2), []float64{0.1})
	require.Error(t, err)
}

package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/encoding/json"

	"github.com/brensch/panotree/space"
)

const (
	DefaultTextureSize = 224
	DefaultTimeout     = 5 * time.Second
)

// StatusError is returned when the server answers with anything but 200.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("render: %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client is an HTTP client for the render server. It is safe for
// concurrent use.
type Client struct {
	endpoint    string
	httpClient  *http.Client
	textureSize int
	log         zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.httpClient.Timeout = d }
}

// WithTextureSize sets the expected edge length of one rendered tile.
func WithTextureSize(n int) Option {
	return func(cl *Client) { cl.textureSize = n }
}

func WithLogger(l zerolog.Logger) Option {
	return func(cl *Client) { cl.log = l }
}

// NewClient creates a client for the server at endpoint, e.g.
// http://localhost:8080/.
func NewClient(endpoint string, opts ...Option) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("render: parse endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("render: endpoint %q must be http or https", endpoint)
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}

	c := &Client{
		endpoint:    endpoint,
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		textureSize: DefaultTextureSize,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.textureSize <= 0 {
		return nil, fmt.Errorf("render: texture size must be > 0, got %d", c.textureSize)
	}
	return c, nil
}

func (c *Client) Endpoint() string { return c.endpoint }

func (c *Client) TextureSize() int { return c.textureSize }

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("render: encode %s: %w", path, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return nil, fmt.Errorf("render: build %s request: %w", path, err)
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render: %s %s: %w", method, path, err)
	}
	c.log.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("render server call")

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{
			Method: method,
			Path:   path,
			Code:   resp.StatusCode,
			Body:   strings.TrimPrefix(string(msg), "\ufeff"),
		}
	}
	return resp, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("render: read %s: %w", path, err)
	}
	// The server writes a UTF-8 byte order mark in front of some bodies.
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("render: decode %s: %w", path, err)
	}
	return nil
}

// Render renders every camera and returns one image per camera, in order.
func (c *Client) Render(ctx context.Context, cams []CameraParameter) ([]image.Image, error) {
	if len(cams) == 0 {
		return nil, nil
	}
	resp, err := c.do(ctx, http.MethodPost, "world/render", renderRequest{CameraParameters: cams})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("render: response content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, fmt.Errorf("%w: content type %q is not multipart", ErrMalformedRender, mediaType)
	}

	images := make([]image.Image, 0, len(cams))
	mr := multipart.NewReader(resp.Body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("render: read part: %w", err)
		}
		sheet, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, fmt.Errorf("render: read part: %w", err)
		}
		images, err = cutSheet(images, sheet, c.textureSize, len(cams)-len(images))
		if err != nil {
			return nil, err
		}
	}

	if len(images) != len(cams) {
		return nil, fmt.Errorf("%w: got %d images for %d cameras", ErrMalformedRender, len(images), len(cams))
	}
	return images, nil
}

// BoundingBox returns the box around every collider the server has loaded.
func (c *Client) BoundingBox(ctx context.Context) (space.Bounds, error) {
	var resp boundingBoxResponse
	if err := c.call(ctx, http.MethodGet, "world/bbox", nil, &resp); err != nil {
		return space.Bounds{}, err
	}
	b := space.Bounds{Min: resp.BBox.Min.vec(), Max: resp.BBox.Max.vec()}
	if err := b.Validate(); err != nil {
		return space.Bounds{}, fmt.Errorf("render: world bbox: %w", err)
	}
	return b, nil
}

// UpdateNodes pushes node records to the server's visualisation.
func (c *Client) UpdateNodes(ctx context.Context, recs ...NodeRecord) error {
	return c.call(ctx, http.MethodPost, "world/node", updateNodesRequest{Nodes: recs}, nil)
}

// RecordNode pushes a single record.
func (c *Client) RecordNode(ctx context.Context, rec NodeRecord) error {
	return c.UpdateNodes(ctx, rec)
}

// ResetNodes removes every visualised node.
func (c *Client) ResetNodes(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "world/node/reset", nil, nil)
}

func (c *Client) Info(ctx context.Context) (ServerInfo, error) {
	var info ServerInfo
	err := c.call(ctx, http.MethodGet, "info", nil, &info)
	return info, err
}

// SetTextureSize changes the server's tile size and the size this client
// expects back. It must not race with Render.
func (c *Client) SetTextureSize(ctx context.Context, size int) error {
	if size <= 0 {
		return fmt.Errorf("render: texture size must be > 0, got %d", size)
	}
	var req updateConfigRequest
	req.RendererConfig.TextureSize = size
	if err := c.call(ctx, http.MethodPost, "config", req, nil); err != nil {
		return err
	}
	c.textureSize = size
	return nil
}

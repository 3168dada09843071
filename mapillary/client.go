// Package mapillary looks up street-level imagery near a coordinate through
// the Mapillary Graph API.
package mapillary

import (
	"context"
	"encoding/json"
	"image"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/scenic-viber/viber/images"
)

const (
	// DefaultBaseURL is the Graph API endpoint.
	DefaultBaseURL = "https://graph.mapillary.com"
	// DefaultRadius is the half-size of the search box in degrees, roughly 100m.
	DefaultRadius = 0.001
	// ImageFields are the fields requested for every image.
	ImageFields = "id,thumb_1024_url"

	maxDownloadBytes = 32 << 20
)

// ErrNoImagery is returned when no image exists around a coordinate.
var ErrNoImagery = errors.New("no street imagery at location")

// ImageRef identifies one Mapillary image.
type ImageRef struct {
	ID       string `json:"id"`
	ThumbURL string `json:"thumb_1024_url"`
}

type imagesResponse struct {
	Data []ImageRef `json:"data"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Client is an HTTP client for the Mapillary Graph API.
type Client struct {
	baseURL    string
	token      string
	radius     float64
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithRadius sets the half-size of the search box in degrees.
func WithRadius(r float64) Option {
	return func(c *Client) {
		if r > 0 {
			c.radius = r
		}
	}
}

// WithTimeout sets the timeout of every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a new Mapillary client.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		token:      token,
		radius:     DefaultRadius,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BBox formats the search box around a coordinate as min_lon,min_lat,max_lon,max_lat.
func BBox(lat, lon, radius float64) string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
	return f(lon-radius) + "," + f(lat-radius) + "," + f(lon+radius) + "," + f(lat+radius)
}

// ImageNear returns the first image inside the search box around a coordinate.
//
// Arguments:
//   - ctx: The request context.
//   - lat: Latitude in degrees.
//   - lon: Longitude in degrees.
//
// Returns:
//   - *ImageRef: The image found.
//   - error: ErrNoImagery when the box is empty, or a request error.
func (c *Client) ImageNear(ctx context.Context, lat, lon float64) (*ImageRef, error) {
	if c.token == "" {
		return nil, errors.New("mapillary access token is not set")
	}

	q := url.Values{}
	q.Set("access_token", c.token)
	q.Set("fields", ImageFields)
	q.Set("bbox", BBox(lat, lon, c.radius))
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/images?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var result imagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to decode response")
	}

	if len(result.Data) == 0 || result.Data[0].ThumbURL == "" {
		return nil, errors.Wrapf(ErrNoImagery, "%.6f,%.6f", lat, lon)
	}

	ref := result.Data[0]
	c.logger.Debug("mapillary image found",
		zap.String("id", ref.ID),
		zap.Float64("lat", lat),
		zap.Float64("lon", lon),
	)
	return &ref, nil
}

// Download fetches an image and decodes it in memory.
//
// Arguments:
//   - ctx: The request context.
//   - imageURL: The image URL, usually ImageRef.ThumbURL.
//
// Returns:
//   - image.Image: The decoded image.
//   - error: A request or decoding error.
func (c *Client) Download(ctx context.Context, imageURL string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to download image")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read image body")
	}

	img, err := images.FromBytes(data)
	if err != nil {
		return nil, err
	}
	return img.Decode()
}

func statusError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return errors.Errorf("mapillary returned status %d", resp.StatusCode)
	}

	var apiErr errorResponse
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		return errors.Errorf("mapillary returned status %d: %s", resp.StatusCode, apiErr.Error.Message)
	}
	return errors.Errorf("mapillary returned status %d: %s", resp.StatusCode, string(body))
}

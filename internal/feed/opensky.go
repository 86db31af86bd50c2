// Package feed adapts upstream position feeds into canonical reports.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/signalsfoundry/airspace-sentinel/internal/logging"
	"github.com/signalsfoundry/airspace-sentinel/model"
)

// DefaultURL is the public OpenSky state vector endpoint.
const DefaultURL = "https://opensky-network.org/api/states/all"

// DefaultTimeout bounds a single fetch when no timeout is configured.
const DefaultTimeout = 10 * time.Second

const maxBodyBytes = 64 << 20

var errTimeout = errors.New("timeout")

// Fetcher produces one batch of position reports per call.
type Fetcher interface {
	Fetch(ctx context.Context) ([]model.PositionReport, error)
}

// BoundingBox restricts an OpenSky query. The zero value means no filter.
type BoundingBox struct {
	LatMin, LonMin, LatMax, LonMax float64
}

// IsZero reports whether the box is unset.
func (b BoundingBox) IsZero() bool { return b == BoundingBox{} }

// Validate checks the box ordering and ranges.
func (b BoundingBox) Validate() error {
	if b.IsZero() {
		return nil
	}
	lo := model.Coordinate{Latitude: b.LatMin, Longitude: b.LonMin}
	hi := model.Coordinate{Latitude: b.LatMax, Longitude: b.LonMax}
	if !lo.Valid() || !hi.Valid() {
		return fmt.Errorf("bounding box %v: %w", b, errOutOfRange)
	}
	if b.LatMin >= b.LatMax || b.LonMin >= b.LonMax {
		return fmt.Errorf("bounding box %v: minimum must be below maximum", b)
	}
	return nil
}

// OpenSkyConfig configures an OpenSkyClient.
type OpenSkyConfig struct {
	URL        string
	Timeout    time.Duration
	Box        BoundingBox
	MaxRecords int
	HTTPClient *http.Client
	Logger     logging.Logger
}

// OpenSkyClient fetches state vectors from an OpenSky-compatible endpoint.
type OpenSkyClient struct {
	url        string
	timeout    time.Duration
	box        BoundingBox
	maxRecords int
	http       *http.Client
	log        logging.Logger
}

// NewOpenSkyClient validates cfg and returns a client.
func NewOpenSkyClient(cfg OpenSkyConfig) (*OpenSkyClient, error) {
	raw := cfg.URL
	if raw == "" {
		raw = DefaultURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("feed url %q: invalid", raw)
	}
	if err := cfg.Box.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxRecords < 0 {
		return nil, fmt.Errorf("feed max records %d: must not be negative", cfg.MaxRecords)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Noop()
	}

	if !cfg.Box.IsZero() {
		q := u.Query()
		q.Set("lamin", strconv.FormatFloat(cfg.Box.LatMin, 'f', -1, 64))
		q.Set("lomin", strconv.FormatFloat(cfg.Box.LonMin, 'f', -1, 64))
		q.Set("lamax", strconv.FormatFloat(cfg.Box.LatMax, 'f', -1, 64))
		q.Set("lomax", strconv.FormatFloat(cfg.Box.LonMax, 'f', -1, 64))
		u.RawQuery = q.Encode()
	}

	return &OpenSkyClient{
		url:        u.String(),
		timeout:    timeout,
		box:        cfg.Box,
		maxRecords: cfg.MaxRecords,
		http:       client,
		log:        log.With(logging.String("component", "feed")),
	}, nil
}

// URL returns the fully-resolved request URL.
func (c *OpenSkyClient) URL() string { return c.url }

type statesResponse struct {
	Time   int64             `json:"time"`
	States []json.RawMessage `json:"states"`
}

// Fetch performs one bounded GET and normalizes the returned records. A
// response without records yields ErrEmptyPayload.
func (c *OpenSkyClient) Fetch(ctx context.Context) ([]model.PositionReport, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, &FetchError{Op: "request", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %v", errTimeout, c.timeout, err)
		}
		return nil, &FetchError{Op: "get", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &FetchError{Op: "get", StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	var body statesResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", errTimeout, err)
		}
		return nil, &FetchError{Op: "decode", Err: err}
	}
	if len(body.States) == 0 {
		return nil, ErrEmptyPayload
	}

	states := body.States
	if c.maxRecords > 0 && len(states) > c.maxRecords {
		states = states[:c.maxRecords]
	}
	reports := Normalize(states)

	malformedCount := 0
	for _, r := range reports {
		if r.Malformed {
			malformedCount++
		}
	}
	if malformedCount > 0 {
		c.log.Debug(ctx, "feed records malformed",
			logging.Int("malformed", malformedCount),
			logging.Int("records", len(reports)),
		)
	}
	return reports, nil
}

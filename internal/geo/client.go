// Package geo talks to the forward/reverse geocoding collaborator. Both
// lookups are best-effort: callers fall back to raw coordinates when the
// service misbehaves.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// ErrGeocode wraps any failure talking to the geocoding service.
var ErrGeocode = errors.New("geocode lookup failed")

// Place is one geocoding candidate.
type Place struct {
	Lat         float64
	Lng         float64
	DisplayName string
	Locality    string
}

// Client is a thin REST client for a Nominatim-style API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a geocoder client against the given base URL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type searchResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

type reverseResult struct {
	DisplayName string `json:"display_name"`
	Address     struct {
		Suburb string `json:"suburb"`
		City   string `json:"city"`
		Town   string `json:"town"`
	} `json:"address"`
}

// Search returns forward-geocoding candidates for a free-text query.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Place, error) {
	if limit <= 0 {
		limit = 5
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("limit", strconv.Itoa(limit))

	var results []searchResult
	if err := c.getJSON(ctx, "/search", q, &results); err != nil {
		return nil, err
	}

	places := make([]Place, 0, len(results))
	for _, r := range results {
		lat, errLat := strconv.ParseFloat(r.Lat, 64)
		lng, errLng := strconv.ParseFloat(r.Lon, 64)
		if errLat != nil || errLng != nil {
			continue
		}
		places = append(places, Place{Lat: lat, Lng: lng, DisplayName: r.DisplayName})
	}
	return places, nil
}

// Reverse resolves coordinates to a display name and locality.
func (c *Client) Reverse(ctx context.Context, lat, lng float64) (*Place, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("format", "json")

	var result reverseResult
	if err := c.getJSON(ctx, "/reverse", q, &result); err != nil {
		return nil, err
	}

	locality := result.Address.Suburb
	if locality == "" {
		locality = result.Address.City
	}
	if locality == "" {
		locality = result.Address.Town
	}
	return &Place{Lat: lat, Lng: lng, DisplayName: result.DisplayName, Locality: locality}, nil
}

// ResolveLabel reverse-geocodes a pick for display. On failure it falls
// back to raw coordinates instead of propagating the error.
func (c *Client) ResolveLabel(ctx context.Context, lat, lng float64) (label, address string) {
	place, err := c.Reverse(ctx, lat, lng)
	if err != nil {
		c.logger.Warn("reverse geocode failed, using raw coordinates", zap.Error(err))
		return fmt.Sprintf("%.6f, %.6f", lat, lng), ""
	}
	label = place.Locality
	if label == "" {
		label = place.DisplayName
	}
	if label == "" {
		label = fmt.Sprintf("%.6f, %.6f", lat, lng)
	}
	return label, place.DisplayName
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGeocode, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGeocode, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrGeocode, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrGeocode, err)
	}
	return nil
}

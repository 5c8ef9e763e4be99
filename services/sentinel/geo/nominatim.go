// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrUnknownLocation is returned when no source can place a name.
	ErrUnknownLocation = errors.New("unknown location")

	// ErrGeocodeStatus is returned for a non-200 geocoder response.
	ErrGeocodeStatus = errors.New("geocoder returned unexpected status")
)

// DefaultNominatimURL is the public OpenStreetMap search endpoint.
const DefaultNominatimURL = "https://nominatim.openstreetmap.org/search"

// Geocoder resolves free-form place names over the network.
type Geocoder interface {
	Geocode(ctx context.Context, name string) (Point, error)
}

// Nominatim geocodes through an OpenStreetMap Nominatim endpoint. Requests
// are limited to one per second, the public service's usage policy.
type Nominatim struct {
	endpoint  string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
}

// NewNominatim builds a geocoder. Empty endpoint uses DefaultNominatimURL.
func NewNominatim(endpoint string, client *http.Client) *Nominatim {
	if endpoint == "" {
		endpoint = DefaultNominatimURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Nominatim{
		endpoint:  endpoint,
		userAgent: "Sentinel-SupplyChain-Monitor/1.0",
		client:    client,
		limiter:   rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

type nominatimResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Geocode implements Geocoder.
func (n *Nominatim) Geocode(ctx context.Context, name string) (Point, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return Point{}, fmt.Errorf("geocode rate limit: %w", err)
	}

	q := url.Values{}
	q.Set("q", name)
	q.Set("format", "json")
	q.Set("limit", "1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return Point{}, fmt.Errorf("build geocode request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return Point{}, fmt.Errorf("geocode %q: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Point{}, fmt.Errorf("%w: %d", ErrGeocodeStatus, resp.StatusCode)
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return Point{}, fmt.Errorf("decode geocode response: %w", err)
	}
	if len(results) == 0 {
		return Point{}, fmt.Errorf("%w: %s", ErrUnknownLocation, name)
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return Point{}, fmt.Errorf("parse latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return Point{}, fmt.Errorf("parse longitude: %w", err)
	}
	return Point{Lat: lat, Lng: lng}, nil
}

// Resolver tries the offline table first, then an optional geocoder whose
// answers are cached for the life of the resolver.
//
// Thread Safety: safe for concurrent use.
type Resolver struct {
	known    Locator
	geocoder Geocoder
	logger   *slog.Logger

	mu    sync.RWMutex
	cache map[string]Point
}

// NewResolver builds a resolver. geocoder may be nil for offline use.
func NewResolver(known Locator, geocoder Geocoder, logger *slog.Logger) *Resolver {
	if known == nil {
		known = DefaultLocations()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{known: known, geocoder: geocoder, logger: logger, cache: make(map[string]Point)}
}

// Coordinates implements Locator using only offline sources.
func (r *Resolver) Coordinates(name string) (Point, bool) {
	if p, ok := r.known.Coordinates(name); ok {
		return p, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.cache[cacheKey(name)]
	return p, ok
}

// Resolve places name, falling back to the geocoder when configured.
func (r *Resolver) Resolve(ctx context.Context, name string) (Point, error) {
	if p, ok := r.Coordinates(name); ok {
		return p, nil
	}
	if r.geocoder == nil || strings.TrimSpace(name) == "" {
		return Point{}, fmt.Errorf("%w: %s", ErrUnknownLocation, name)
	}

	p, err := r.geocoder.Geocode(ctx, name)
	if err != nil {
		r.logger.Warn("Geocoding failed",
			slog.String("location", name),
			slog.String("error", err.Error()))
		return Point{}, err
	}

	r.mu.Lock()
	r.cache[cacheKey(name)] = p
	r.mu.Unlock()
	return p, nil
}

func cacheKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

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
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversine(t *testing.T) {
	tests := []struct {
		name string
		a, b Point
		want float64
		tol  float64
	}{
		{"same point", Point{30.5, 32.3}, Point{30.5, 32.3}, 0, 1e-9},
		{"one degree of latitude", Point{0, 0}, Point{1, 0}, 111.19, 0.01},
		{"london to new york", Point{51.5, -0.1}, Point{40.7, -74.0}, 5570, 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Haversine(tt.a, tt.b), tt.tol)
			assert.InDelta(t, Haversine(tt.a, tt.b), Haversine(tt.b, tt.a), 1e-9)
		})
	}
}

func TestKnownLocations_Coordinates(t *testing.T) {
	k := DefaultLocations()
	tests := []struct {
		query string
		want  Point
		ok    bool
	}{
		{"Suez Canal", Point{30.5, 32.3}, true},
		{"  SUEZ CANAL ", Point{30.5, 32.3}, true},
		{"Port of Rotterdam", Point{51.9, 4.5}, true},
		{"suez", Point{30.5, 32.3}, true},
		{"Singapore Strait", Point{1.2, 103.8}, true},
		{"Atlantis", Point{}, false},
		{"", Point{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, ok := k.Coordinates(tt.query)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Len(t, k.Names(), 25)
}

func TestNewCorridor(t *testing.T) {
	assert.Empty(t, NewCorridor(nil, 0, 0).Circles)

	// Roughly 111 km per step along the equator.
	line := []Point{{0, 0}, {0, 1}, {0, 2}, {0, 3}}
	c := NewCorridor(line, 0, 0)

	require.Len(t, c.Circles, 5)
	assert.Equal(t, Point{0, 0}, c.Circles[0].Center)
	assert.Equal(t, Point{0, 3}, c.Circles[len(c.Circles)-1].Center)
	for _, circle := range c.Circles {
		assert.Equal(t, DefaultBufferKm, circle.RadiusKm)
	}
}

func TestCorridor_Contains(t *testing.T) {
	c := NewCorridor([]Point{{30.5, 32.3}, {20.0, 38.0}}, 100, 200)

	assert.True(t, c.Contains(Point{30.5, 32.3}))
	assert.True(t, c.Contains(Point{31.0, 32.0}))
	assert.False(t, c.Contains(Point{51.9, 4.5}))

	k := DefaultLocations()
	assert.True(t, c.ContainsLocation(k, "Red Sea"))
	assert.False(t, c.ContainsLocation(k, "Rotterdam"))
	assert.False(t, c.ContainsLocation(k, "Atlantis"))
}

func TestNominatim_Geocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Lagos", r.URL.Query().Get("q"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`[{"lat":"6.45","lon":"3.39"}]`))
	}))
	defer srv.Close()

	p, err := NewNominatim(srv.URL, srv.Client()).Geocode(context.Background(), "Lagos")
	require.NoError(t, err)
	assert.Equal(t, Point{6.45, 3.39}, p)
}

func TestNominatim_Errors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()
		_, err := NewNominatim(srv.URL, srv.Client()).Geocode(context.Background(), "x")
		assert.ErrorIs(t, err, ErrGeocodeStatus)
	})
	t.Run("no results", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`[]`))
		}))
		defer srv.Close()
		_, err := NewNominatim(srv.URL, srv.Client()).Geocode(context.Background(), "x")
		assert.ErrorIs(t, err, ErrUnknownLocation)
	})
}

type countingGeocoder struct {
	calls atomic.Int32
	err   error
}

func (c *countingGeocoder) Geocode(context.Context, string) (Point, error) {
	c.calls.Add(1)
	if c.err != nil {
		return Point{}, c.err
	}
	return Point{6.45, 3.39}, nil
}

func TestResolver(t *testing.T) {
	ctx := context.Background()
	g := &countingGeocoder{}
	r := NewResolver(nil, g, nil)

	p, err := r.Resolve(ctx, "Suez Canal")
	require.NoError(t, err)
	assert.Equal(t, Point{30.5, 32.3}, p)
	assert.Zero(t, g.calls.Load())

	_, ok := r.Coordinates("Lagos")
	assert.False(t, ok)

	for range 2 {
		p, err = r.Resolve(ctx, "Lagos")
		require.NoError(t, err)
		assert.Equal(t, Point{6.45, 3.39}, p)
	}
	assert.Equal(t, int32(1), g.calls.Load())

	_, ok = r.Coordinates("lagos")
	assert.True(t, ok)
}

func TestResolver_Offline(t *testing.T) {
	_, err := NewResolver(nil, nil, nil).Resolve(context.Background(), "Atlantis")
	assert.ErrorIs(t, err, ErrUnknownLocation)

	boom := errors.New("offline")
	_, err = NewResolver(nil, &countingGeocoder{err: boom}, nil).Resolve(context.Background(), "Atlantis")
	assert.ErrorIs(t, err, boom)
}

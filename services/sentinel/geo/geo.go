// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package geo answers the two location questions the rest of sentinel asks:
// where is a named place, and does a point fall inside a route corridor.
package geo

import (
	"math"
	"sort"
	"strings"
)

const (
	// EarthRadiusKm is the mean Earth radius used by Haversine.
	EarthRadiusKm = 6371.0

	// DefaultSampleIntervalKm is the spacing of corridor sample points.
	DefaultSampleIntervalKm = 100.0

	// DefaultBufferKm is the radius around each corridor sample point.
	DefaultBufferKm = 200.0
)

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Locator resolves a place name to coordinates without network access.
type Locator interface {
	Coordinates(name string) (Point, bool)
}

// Haversine returns the great-circle distance between a and b in km.
func Haversine(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// =============================================================================
// Known locations
// =============================================================================

// KnownLocations is a fixed table of supply-chain hubs and chokepoints.
//
// Lookup is case-insensitive and matches when either the query or the
// table name contains the other, so "Port of Rotterdam" resolves to
// "rotterdam". Longer names are tried first, so "singapore strait" wins
// over "singapore" for a query naming the strait.
type KnownLocations struct {
	names  []string
	coords map[string]Point
}

// DefaultLocations returns the built-in hub table.
func DefaultLocations() *KnownLocations {
	return NewKnownLocations(map[string]Point{
		"suez canal":        {30.5, 32.3},
		"panama canal":      {9.1, -79.7},
		"singapore":         {1.3, 103.8},
		"rotterdam":         {51.9, 4.5},
		"hamburg":           {53.5, 10.0},
		"los angeles":       {33.7, -118.2},
		"shanghai":          {31.2, 121.5},
		"mumbai":            {19.0, 72.8},
		"hong kong":         {22.3, 114.2},
		"dubai":             {25.2, 55.3},
		"tokyo":             {35.7, 139.7},
		"new york":          {40.7, -74.0},
		"london":            {51.5, -0.1},
		"sydney":            {-33.9, 151.2},
		"cape town":         {-33.9, 18.4},
		"singapore strait":  {1.2, 103.8},
		"strait of malacca": {2.5, 101.0},
		"strait of hormuz":  {26.5, 56.5},
		"red sea":           {20.0, 38.0},
		"mediterranean":     {35.0, 18.0},
		"chennai":           {13.08, 80.27},
		"coimbatore":        {11.01, 76.95},
		"bangalore":         {12.97, 77.59},
		"salem":             {11.66, 78.14},
		"highway 44":        {11.5, 77.5},
	})
}

// NewKnownLocations builds a table from name → point. Names are lowercased.
func NewKnownLocations(table map[string]Point) *KnownLocations {
	k := &KnownLocations{coords: make(map[string]Point, len(table))}
	for name, p := range table {
		n := strings.ToLower(strings.TrimSpace(name))
		if n == "" {
			continue
		}
		k.coords[n] = p
		k.names = append(k.names, n)
	}
	sort.Slice(k.names, func(i, j int) bool {
		if len(k.names[i]) != len(k.names[j]) {
			return len(k.names[i]) > len(k.names[j])
		}
		return k.names[i] < k.names[j]
	})
	return k
}

// Coordinates implements Locator.
func (k *KnownLocations) Coordinates(name string) (Point, bool) {
	q := strings.ToLower(strings.TrimSpace(name))
	if q == "" {
		return Point{}, false
	}
	if p, ok := k.coords[q]; ok {
		return p, true
	}
	for _, n := range k.names {
		if strings.Contains(q, n) || strings.Contains(n, q) {
			return k.coords[n], true
		}
	}
	return Point{}, false
}

// Names returns the table names, longest first.
func (k *KnownLocations) Names() []string {
	return append([]string(nil), k.names...)
}

// =============================================================================
// Corridors
// =============================================================================

// Circle is one corridor monitoring area.
type Circle struct {
	Center   Point   `json:"center"`
	RadiusKm float64 `json:"radius_km"`
}

// Corridor is a route buffered by circles sampled along its polyline.
type Corridor struct {
	Circles []Circle `json:"circles"`
}

// NewCorridor samples polyline every intervalKm of travelled distance and
// places a circle of bufferKm at each sample, plus the start and the end.
// Non-positive arguments fall back to the defaults. An empty polyline
// yields an empty corridor that contains nothing.
func NewCorridor(polyline []Point, intervalKm, bufferKm float64) Corridor {
	if len(polyline) == 0 {
		return Corridor{}
	}
	if intervalKm <= 0 {
		intervalKm = DefaultSampleIntervalKm
	}
	if bufferKm <= 0 {
		bufferKm = DefaultBufferKm
	}

	circles := []Circle{{Center: polyline[0], RadiusKm: bufferKm}}
	travelled := 0.0
	for i := 0; i+1 < len(polyline); i++ {
		travelled += Haversine(polyline[i], polyline[i+1])
		if travelled >= intervalKm {
			circles = append(circles, Circle{Center: polyline[i+1], RadiusKm: bufferKm})
			travelled = 0
		}
	}
	circles = append(circles, Circle{Center: polyline[len(polyline)-1], RadiusKm: bufferKm})
	return Corridor{Circles: circles}
}

// Contains reports whether p lies within any corridor circle.
func (c Corridor) Contains(p Point) bool {
	for _, circle := range c.Circles {
		if Haversine(p, circle.Center) <= circle.RadiusKm {
			return true
		}
	}
	return false
}

// ContainsLocation resolves name with loc and checks membership. Unknown
// names are reported as outside.
func (c Corridor) ContainsLocation(loc Locator, name string) bool {
	p, ok := loc.Coordinates(name)
	if !ok {
		return false
	}
	return c.Contains(p)
}

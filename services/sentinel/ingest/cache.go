// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest feeds the pipeline from message streams: shipment
// positions update a bounded cache, and each disruption event triggers one
// pipeline run against the cache's current snapshot.
package ingest

import (
	"sync"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/model"
)

// DefaultCacheCapacity bounds the number of shipments kept.
const DefaultCacheCapacity = 50

// ShipmentCache holds the latest snapshot per shipment ID in arrival order.
// An update moves the shipment to the newest position; when full, the
// oldest shipment is evicted.
//
// Thread Safety: safe for concurrent use.
type ShipmentCache struct {
	mu       sync.RWMutex
	capacity int
	items    []model.ShipmentSnapshot
}

// NewShipmentCache builds a cache. capacity below 1 uses the default.
func NewShipmentCache(capacity int) *ShipmentCache {
	if capacity < 1 {
		capacity = DefaultCacheCapacity
	}
	return &ShipmentCache{capacity: capacity, items: make([]model.ShipmentSnapshot, 0, capacity)}
}

// Upsert stores s as the newest entry. It returns the ID evicted to make
// room, or "" when nothing was evicted.
func (c *ShipmentCache) Upsert(s model.ShipmentSnapshot) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, existing := range c.items {
		if existing.ShipmentID == s.ShipmentID {
			c.items = append(c.items[:i], c.items[i+1:]...)
			break
		}
	}
	c.items = append(c.items, s)

	if len(c.items) <= c.capacity {
		return ""
	}
	evicted := c.items[0].ShipmentID
	c.items = append(c.items[:0], c.items[1:]...)
	return evicted
}

// Remove drops a shipment. It reports whether it was present.
func (c *ShipmentCache) Remove(shipmentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.items {
		if existing.ShipmentID == shipmentID {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the cached shipments, oldest first.
func (c *ShipmentCache) Snapshot() []model.ShipmentSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.ShipmentSnapshot(nil), c.items...)
}

// Len returns the number of cached shipments.
func (c *ShipmentCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

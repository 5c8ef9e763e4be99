// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

// Follow connects to a Hub's WebSocket endpoint and calls handler for every
// notice, history first. It returns when ctx is cancelled or the server
// closes the stream; a normal close returns nil.
func Follow(ctx context.Context, url string, handler Handler) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial telemetry stream %s: %w", url, err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		case <-done:
			_ = conn.Close()
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read telemetry stream: %w", err)
		}
		if err := dispatchMessage(raw, handler); err != nil {
			return err
		}
	}
}

var errUnknownMessage = errors.New("unknown telemetry message type")

func dispatchMessage(raw []byte, handler Handler) error {
	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode telemetry message: %w", err)
	}
	switch env.Type {
	case "history":
		var notices []Notice
		if err := json.Unmarshal(env.Payload, &notices); err != nil {
			return fmt.Errorf("decode telemetry history: %w", err)
		}
		for _, n := range notices {
			handler(n)
		}
	case "telemetry":
		var n Notice
		if err := json.Unmarshal(env.Payload, &n); err != nil {
			return fmt.Errorf("decode telemetry notice: %w", err)
		}
		handler(n)
	default:
		return fmt.Errorf("%w: %q", errUnknownMessage, env.Type)
	}
	return nil
}

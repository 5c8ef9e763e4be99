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
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func closeSink(t *testing.T, s *Sink) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))
}

func TestSink_DeliversToSubscribers(t *testing.T) {
	s := NewSink()
	defer closeSink(t, s)

	var mu sync.Mutex
	var got []Notice
	s.Subscribe(func(n Notice) {
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
	})

	s.Emit("OBSERVE", "E1", map[string]any{"topic": "Canal Blockage", "location": "Suez Canal"}, 1.0)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "OBSERVE", got[0].AgentState)
	assert.Equal(t, "E1", got[0].EventID)
	assert.Equal(t, "Suez Canal", got[0].Details["location"])
	assert.NotEmpty(t, got[0].ID)
}

func TestSink_StageFilter(t *testing.T) {
	s := NewSink()
	defer closeSink(t, s)

	var mu sync.Mutex
	var stages []string
	s.Subscribe(func(n Notice) {
		mu.Lock()
		stages = append(stages, n.AgentState)
		mu.Unlock()
	}, "ACT")

	s.Emit("OBSERVE", "E", nil, 1)
	s.Emit("ACT", "E", nil, 0.95)

	assert.Eventually(t, func() bool { return s.Stats().Delivered == 2 }, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"ACT"}, stages)
}

func TestSink_EmitNeverBlocksAndDropsOldest(t *testing.T) {
	release := make(chan struct{})
	s := NewSink(WithQueueSize(2))

	first := make(chan struct{})
	var once sync.Once
	var mu sync.Mutex
	var delivered []string
	s.Subscribe(func(n Notice) {
		once.Do(func() { close(first) })
		<-release
		mu.Lock()
		delivered = append(delivered, n.EventID)
		mu.Unlock()
	})

	s.Emit("OBSERVE", "E0", nil, 1)
	<-first // worker is now stuck in the handler holding E0

	done := make(chan struct{})
	go func() {
		for i := 1; i <= 5; i++ {
			s.Emit("OBSERVE", fmt.Sprintf("E%d", i), nil, 1)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full queue")
	}

	close(release)
	closeSink(t, s)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"E0", "E4", "E5"}, delivered)
	assert.Equal(t, int64(3), s.Stats().Dropped)
	assert.Equal(t, int64(6), s.Stats().Emitted)
}

func TestSink_HandlerPanicIsRecovered(t *testing.T) {
	s := NewSink()
	defer closeSink(t, s)

	s.Subscribe(func(Notice) { panic("boom") })
	var count sync.WaitGroup
	count.Add(2)
	s.Subscribe(func(Notice) { count.Done() })

	s.Emit("ACT", "E1", nil, 1)
	s.Emit("ACT", "E2", nil, 1)

	waitCh := make(chan struct{})
	go func() { count.Wait(); close(waitCh) }()
	select {
	case <-waitCh:
	case <-time.After(time.Second):
		t.Fatal("healthy subscriber stopped receiving after a panic")
	}
}

func TestSink_RecentAndForEvent(t *testing.T) {
	s := NewSink(WithHistorySize(3))
	defer closeSink(t, s)

	for i := 0; i < 5; i++ {
		s.Emit("DECIDE", fmt.Sprintf("E%d", i%2), map[string]any{"i": i}, 0.95)
	}
	assert.Eventually(t, func() bool { return s.Stats().Delivered == 5 }, time.Second, 5*time.Millisecond)

	recent := s.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, 2, recent[0].Details["i"])
	assert.Equal(t, 4, recent[2].Details["i"])

	assert.Len(t, s.Recent(2), 2)
	assert.Len(t, s.ForEvent("E0"), 2)
}

func TestSink_Unsubscribe(t *testing.T) {
	s := NewSink()
	defer closeSink(t, s)
	id := s.Subscribe(func(Notice) {})
	assert.True(t, s.Unsubscribe(id))
	assert.False(t, s.Unsubscribe(id))
}

func TestSink_EmitAfterCloseIsNoop(t *testing.T) {
	s := NewSink()
	closeSink(t, s)
	s.Emit("OBSERVE", "late", nil, 1)
	assert.Equal(t, int64(0), s.Stats().Emitted)
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Emit("OBSERVE", "E", nil, 1)
	r.Emit("ACT", "E", nil, 0.85)
	assert.Len(t, r.Notices(), 2)
	require.Len(t, r.ByStage("ACT"), 1)
	assert.Equal(t, 0.85, r.ByStage("ACT")[0].Confidence)
}

func TestHub_BroadcastsToWebSocketClients(t *testing.T) {
	hub := NewHub(func(int) []Notice {
		return []Notice{{AgentState: "OBSERVE", EventID: "old"}}
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() { hub.Run(ctx); close(hubDone) }()

	srv := httptest.NewServer(hub)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	var msg wsMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "history", msg.Type)

	assert.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	hub.Broadcast(Notice{AgentState: "ACT", EventID: "E1"})

	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	var live struct {
		Type    string `json:"type"`
		Payload Notice `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &live))
	assert.Equal(t, "telemetry", live.Type)
	assert.Equal(t, "E1", live.Payload.EventID)

	conn.Close()
	cancel()
	<-hubDone
	srv.CloseClientConnections()
	srv.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestNoticePoint(t *testing.T) {
	ts := time.Unix(1700000000, 0).UTC()
	p := NoticePoint(Notice{
		Timestamp:  ts,
		AgentState: "DECIDE",
		EventID:    "E1",
		Confidence: 0.95,
		Details:    map[string]any{"risk": 100.0, "action": "CRITICAL: REROUTE"},
	})

	assert.Equal(t, InfluxMeasurement, p.Name())
	assert.Equal(t, ts, p.Time())
	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, 0.95, fields["confidence"])
	assert.Equal(t, 100.0, fields["risk"])
	_, hasAction := fields["action"]
	assert.False(t, hasAction)
	tags := map[string]string{}
	for _, tg := range p.TagList() {
		tags[tg.Key] = tg.Value
	}
	assert.Equal(t, "DECIDE", tags["agent_state"])
}

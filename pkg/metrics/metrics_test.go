package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/teslashibe/go-skinvoice/pkg/clock"
)

func TestMetrics_Record(t *testing.T) {
	m := New("")

	m.RecordFrameSent()
	m.RecordFrameSent()
	m.RecordFrameDropped("not_connected")
	m.RecordToolCall("go_to_next_step", false)
	m.RecordToolCall("go_to_next_step", true)
	m.RecordConnectFailure("handshake")
	m.SetConnected(true)

	if got := testutil.ToFloat64(m.FramesSent); got != 2 {
		t.Errorf("frames sent = %v", got)
	}
	if got := testutil.ToFloat64(m.ToolCalls.WithLabelValues("go_to_next_step")); got != 2 {
		t.Errorf("tool calls = %v", got)
	}
	if got := testutil.ToFloat64(m.ToolFailures.WithLabelValues("go_to_next_step")); got != 1 {
		t.Errorf("tool failures = %v", got)
	}
	if got := testutil.ToFloat64(m.Connected); got != 1 {
		t.Errorf("connected = %v", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordFrameSent()
	m.RecordInterruption()
	m.SetConnected(true)
	m.ObserveLatency("x", time.Second)
}

func TestMetrics_Handler(t *testing.T) {
	m := New("test")
	m.RecordReconnect()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if !strings.Contains(string(body), "test_reconnects_total 1") {
		t.Errorf("metrics output missing reconnects:\n%s", body)
	}
}

func TestLatencyCollector(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	m := New("")
	c := NewLatencyCollector(clk, m)

	var updated Turn
	c.OnUpdate(func(turn Turn) { updated = turn })

	c.MarkTurnEnd()
	clk.Advance(300 * time.Millisecond)
	c.MarkFirstAudio()
	clk.Advance(100 * time.Millisecond)
	c.MarkFirstAudio()
	clk.Advance(600 * time.Millisecond)
	turn := c.MarkResponseDone()

	if turn.FirstAudio != 300*time.Millisecond {
		t.Errorf("first audio = %v", turn.FirstAudio)
	}
	if turn.Total != time.Second {
		t.Errorf("total = %v", turn.Total)
	}
	if turn.AudioChunksOut != 2 {
		t.Errorf("chunks out = %d", turn.AudioChunksOut)
	}
	if updated.Total != turn.Total {
		t.Error("OnUpdate not called with completed turn")
	}
	if got := testutil.CollectAndCount(m.ResponseLatency); got != 2 {
		t.Errorf("latency series = %d, want 2", got)
	}

	// A turn with no start mark does not skew the average.
	c.MarkFirstAudio()
	c.MarkResponseDone()
	if avg := c.Average(); avg.Total != time.Second {
		t.Errorf("average total = %v", avg.Total)
	}
}

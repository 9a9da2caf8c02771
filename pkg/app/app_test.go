package app

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/teslashibe/go-skinvoice/internal/config"
	"github.com/teslashibe/go-skinvoice/pkg/audioio"
	"github.com/teslashibe/go-skinvoice/pkg/live"
	"github.com/teslashibe/go-skinvoice/pkg/persona"
	"github.com/teslashibe/go-skinvoice/pkg/session"
	"github.com/teslashibe/go-skinvoice/pkg/still"
)

type fixedCamera struct {
	data []byte
	err  error
}

func (f fixedCamera) Capture(context.Context) ([]byte, error) { return f.data, f.err }

type fixture struct {
	app    *App
	dialer *live.MockDialer
	mic    *audioio.MockSource
	store  *persona.MemoryStore
}

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.APIKey = "test-key"
	cfg.Session.GreetingDelay = time.Hour
	return cfg
}

func newFixture(t *testing.T, cfg config.Config, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		dialer: live.NewMockDialer(),
		mic:    audioio.NewMockSource(audioio.DefaultConfig(), nil, audioio.WithManualFeed()),
		store:  persona.NewMemoryStore(),
	}
	f.dialer.SetAutoAck(true)

	base := []Option{
		WithDialer(f.dialer),
		WithMicrophone(&audioio.MockProvider{Source: f.mic}),
		WithSpeaker(audioio.NewMockSink(audioio.PlaybackConfig(), nil)),
		WithCamera(fixedCamera{data: []byte{0xFF, 0xD8, 0xFF}}),
		WithStore(f.store),
	}
	a, err := New(cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := a.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() {
		a.Shutdown()
		f.mic.Close()
	})
	f.app = a
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	cfg := config.DefaultConfig()
	if _, err := New(cfg); err == nil {
		t.Error("expected error without API key")
	}
}

func TestApp_ConnectUsesStoredPersona(t *testing.T) {
	store := persona.NewMemoryStore()
	store.Set(context.Background(), config.DefaultScope, persona.Male)

	f := newFixture(t, testConfig(), WithStore(store))

	if got := f.app.Persona(); got != persona.Male {
		t.Fatalf("persona = %s, want male", got)
	}
	if err := f.app.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if got := f.dialer.Credentials(0).APIKey; got != "test-key" {
		t.Errorf("api key = %q", got)
	}
	if f.dialer.Setup(0).Instructions != persona.Instructions(persona.Male) {
		t.Error("setup instructions do not match the male persona")
	}
	if !f.app.Status().Connected {
		t.Error("status not connected")
	}

	f.app.Disconnect()
	if f.app.Status().Connected {
		t.Error("still connected after Disconnect")
	}
}

func TestApp_InvalidConfiguredPersonaFallsBack(t *testing.T) {
	cfg := testConfig()
	cfg.Persona = "robot"
	f := newFixture(t, cfg)

	if got := f.app.Persona(); got != persona.Default {
		t.Errorf("persona = %s, want %s", got, persona.Default)
	}
}

func TestApp_ToolCallAdvancesStep(t *testing.T) {
	f := newFixture(t, testConfig())
	if err := f.app.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	conn := f.dialer.Last()

	conn.Deliver(&live.ServerMessage{ToolCalls: []live.ToolCall{
		{ID: "a", Name: persona.ToolNextStep},
		{ID: "b", Name: "unknown_tool"},
	}})

	waitFor(t, "tool responses", func() bool { return len(conn.ToolResponses()) == 2 })
	if got := f.app.Step(); got != 1 {
		t.Errorf("step = %d, want 1", got)
	}

	resp, err := f.app.Web().App().Test(httptest.NewRequest("GET", "/api/events", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"type":"step"`) || !strings.Contains(string(body), `"call_id":"a"`) {
		t.Errorf("events missing step: %s", body)
	}
}

func TestApp_SetPersona(t *testing.T) {
	t.Run("while disconnected stores only", func(t *testing.T) {
		f := newFixture(t, testConfig())

		if err := f.app.SetPersona(context.Background(), persona.Male); err != nil {
			t.Fatalf("SetPersona failed: %v", err)
		}
		if f.dialer.Dials() != 0 {
			t.Errorf("dials = %d, want 0", f.dialer.Dials())
		}
		if v, _ := f.store.Get(context.Background(), config.DefaultScope); v != persona.Male {
			t.Errorf("stored = %s, want male", v)
		}
	})

	t.Run("while connected reconnects", func(t *testing.T) {
		f := newFixture(t, testConfig())
		if err := f.app.Connect(context.Background()); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		first := f.dialer.Last()

		if err := f.app.SetPersona(context.Background(), persona.Male); err != nil {
			t.Fatalf("SetPersona failed: %v", err)
		}
		if f.dialer.Dials() != 2 {
			t.Fatalf("dials = %d, want 2", f.dialer.Dials())
		}
		if !first.Closed() {
			t.Error("previous transport not closed")
		}
		if f.dialer.Setup(1).Instructions != persona.Instructions(persona.Male) {
			t.Error("reconnect did not use the male persona")
		}
		if f.app.Session().State() != session.StateConnected {
			t.Errorf("state = %s", f.app.Session().State())
		}
	})

	t.Run("unchanged is a no-op", func(t *testing.T) {
		f := newFixture(t, testConfig())
		if err := f.app.Connect(context.Background()); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		if err := f.app.SetPersona(context.Background(), f.app.Persona()); err != nil {
			t.Fatalf("SetPersona failed: %v", err)
		}
		if f.dialer.Dials() != 1 {
			t.Errorf("dials = %d, want 1", f.dialer.Dials())
		}
	})

	t.Run("invalid", func(t *testing.T) {
		f := newFixture(t, testConfig())
		if err := f.app.SetPersona(context.Background(), persona.Variant("robot")); err == nil {
			t.Error("expected error for invalid persona")
		}
	})
}

func TestApp_TakePhoto(t *testing.T) {
	t.Run("requires connection", func(t *testing.T) {
		f := newFixture(t, testConfig())
		if err := f.app.TakePhoto(context.Background()); !errors.Is(err, session.ErrNotConnected) {
			t.Errorf("err = %v, want ErrNotConnected", err)
		}
	})

	t.Run("sends capture", func(t *testing.T) {
		f := newFixture(t, testConfig())
		if err := f.app.Connect(context.Background()); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		if err := f.app.TakePhoto(context.Background()); err != nil {
			t.Fatalf("TakePhoto failed: %v", err)
		}
		media := f.dialer.Last().Media()
		if len(media) != 1 || len(media[0]) != 3 {
			t.Errorf("media = %v", media)
		}
	})

	t.Run("camera error", func(t *testing.T) {
		f := newFixture(t, testConfig(), WithCamera(still.Disabled{}))
		if err := f.app.Connect(context.Background()); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		if err := f.app.TakePhoto(context.Background()); !errors.Is(err, still.ErrDisabled) {
			t.Errorf("err = %v, want ErrDisabled", err)
		}
	})
}

func TestApp_RedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.Set("skinvoice:persona:"+config.DefaultScope, "male")

	cfg := testConfig()
	cfg.Redis.Addr = mr.Addr()

	a, err := New(cfg,
		WithDialer(live.NewMockDialer()),
		WithMicrophone(&audioio.MockProvider{}),
		WithSpeaker(audioio.NewMockSink(audioio.PlaybackConfig(), nil)),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := a.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer a.Shutdown()

	if got := a.Persona(); got != persona.Male {
		t.Fatalf("persona = %s, want male from redis", got)
	}
	if err := a.SetPersona(context.Background(), persona.Female); err != nil {
		t.Fatalf("SetPersona failed: %v", err)
	}
	if got, _ := mr.Get("skinvoice:persona:" + config.DefaultScope); got != "female" {
		t.Errorf("redis value = %q, want female", got)
	}
}

func TestApp_RedisUnavailableFallsBackToMemory(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig()
	cfg.Redis.Addr = addr

	a, err := New(cfg,
		WithDialer(live.NewMockDialer()),
		WithMicrophone(&audioio.MockProvider{}),
		WithSpeaker(audioio.NewMockSink(audioio.PlaybackConfig(), nil)),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := a.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer a.Shutdown()

	if _, ok := a.store.(*persona.MemoryStore); !ok {
		t.Errorf("store = %T, want memory fallback", a.store)
	}
	if a.Persona() != persona.Default {
		t.Errorf("persona = %s", a.Persona())
	}
}

func TestApp_RunRequiresInit(t *testing.T) {
	a, err := New(testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := a.Run(context.Background()); err == nil {
		t.Error("expected error when Run precedes Init")
	}
}

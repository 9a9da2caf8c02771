package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Run("defaults without files", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "")
		t.Setenv("GOOGLE_API_KEY", "")
		cfg, err := Load("", "")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Backend != BackendWebsocket {
			t.Errorf("expected websocket backend, got %q", cfg.Backend)
		}
		if cfg.Session.ReconnectBackoff != 2*time.Second {
			t.Errorf("expected 2s backoff, got %v", cfg.Session.ReconnectBackoff)
		}
		if cfg.Persona != "female" || cfg.Scope != DefaultScope {
			t.Errorf("persona/scope = %q/%q", cfg.Persona, cfg.Scope)
		}
		if cfg.Greeting == "" {
			t.Error("expected a default greeting")
		}
	})

	t.Run("yaml then env", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "skinvoice.yaml")
		yml := "backend: genai\nvoice: Puck\nsession:\n  reconnect_backoff: 5s\naudio:\n  input: mock\n"
		if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
			t.Fatal(err)
		}
		t.Setenv("GEMINI_API_KEY", "key-123")
		t.Setenv("SKINVOICE_VOICE", "Aoede")

		cfg, err := Load(path, filepath.Join(dir, "missing.env"))
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Backend != BackendGenAI {
			t.Errorf("backend = %q", cfg.Backend)
		}
		if cfg.Voice != "Aoede" {
			t.Errorf("env should override yaml voice, got %q", cfg.Voice)
		}
		if cfg.Session.ReconnectBackoff != 5*time.Second {
			t.Errorf("backoff = %v", cfg.Session.ReconnectBackoff)
		}
		if cfg.Audio.Input != "mock" {
			t.Errorf("audio input = %q", cfg.Audio.Input)
		}
		if cfg.APIKey != "key-123" {
			t.Errorf("api key = %q", cfg.APIKey)
		}
	})

	t.Run("dotenv file", func(t *testing.T) {
		dir := t.TempDir()
		envPath := filepath.Join(dir, ".env")
		if err := os.WriteFile(envPath, []byte("SKINVOICE_PERSONA=male\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		t.Setenv("SKINVOICE_PERSONA", "")
		os.Unsetenv("SKINVOICE_PERSONA")

		cfg, err := Load("", envPath)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		os.Unsetenv("SKINVOICE_PERSONA")
		if cfg.Persona != "male" {
			t.Errorf("persona = %q, want male", cfg.Persona)
		}
	})

	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("SKINVOICE_RECONNECT_BACKOFF", "soon")
		_, err := Load("", "")
		var cfgErr *Error
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected *Error, got %v", err)
		}
	})
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Error("expected missing api key error")
	}

	cfg.APIKey = "k"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	cfg.Backend = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Error("expected unknown backend error")
	}
}

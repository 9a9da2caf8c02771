package audioio

import (
	"context"
	"testing"
)

func TestNewSource(t *testing.T) {
	tests := []struct {
		backend Backend
		want    string
		wantErr bool
	}{
		{BackendMock, "mock", false},
		{BackendMalgo, "malgo", false},
		{BackendAuto, "malgo", false},
		{BackendRTP, "rtp", false},
		{BackendOto, "", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.backend), func(t *testing.T) {
			src, err := NewSource(DefaultConfig().WithBackend(tt.backend), nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewSource failed: %v", err)
			}
			if src.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", src.Name(), tt.want)
			}
		})
	}
}

func TestNewSink(t *testing.T) {
	sink, err := NewSink(PlaybackConfig().WithBackend(BackendMock), nil)
	if err != nil {
		t.Fatalf("NewSink failed: %v", err)
	}
	if sink.Name() != "mock" {
		t.Errorf("Name() = %q", sink.Name())
	}

	if _, err := NewSink(PlaybackConfig().WithBackend(BackendRTP), nil); err == nil {
		t.Error("expected error for rtp sink")
	}

	bad := PlaybackConfig()
	bad.SampleRate = 0
	if _, err := NewSink(bad, nil); err == nil {
		t.Error("expected validation error")
	}
}

func TestRTPSource_ListenAndStop(t *testing.T) {
	src := NewRTPSource(DefaultConfig().WithDevice("127.0.0.1:0"), nil)

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if src.LocalAddr() == nil {
		t.Fatal("expected bound address")
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if _, ok := <-src.Stream(); ok {
		t.Error("stream should be closed after Stop")
	}
	if err := src.Stop(); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
}

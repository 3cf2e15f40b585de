package stt

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/config"
)

func TestEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		want    string
		wantErr bool
	}{
		{"streaming with port", config.Config{TranscriptionMode: config.ModeStreaming, TranscriptionWSURL: "ws://relay:8000/ws/transcribe"}, "relay:8000", false},
		{"streaming tls default port", config.Config{TranscriptionMode: config.ModeStreaming, TranscriptionWSURL: "wss://relay.example.com/ws"}, "relay.example.com:443", false},
		{"batch https", config.Config{TranscriptionMode: config.ModeBatch, BatchEndpoint: "https://api.elevenlabs.io/v1/speech-to-text"}, "api.elevenlabs.io:443", false},
		{"deepgram", config.Config{TranscriptionMode: config.ModeDeepgram}, deepgramAddr, false},
		{"no host", config.Config{TranscriptionMode: config.ModeStreaming, TranscriptionWSURL: "/ws/transcribe"}, "", true},
		{"bad scheme", config.Config{TranscriptionMode: config.ModeBatch, BatchEndpoint: "ftp://files"}, "", true},
		{"unknown mode", config.Config{TranscriptionMode: "fax"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Endpoint(&tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Endpoint failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestCheckReachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	cfg := &config.Config{TranscriptionMode: config.ModeStreaming, TranscriptionWSURL: "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"}
	addr, err := Endpoint(cfg)
	if err != nil {
		t.Fatalf("Endpoint failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := CheckReachable(ctx, addr); err != nil {
		t.Errorf("Expected reachable endpoint, got %v", err)
	}
}

func TestCheckReachable_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := CheckReachable(ctx, addr); err == nil {
		t.Error("Expected error for closed port")
	}
}

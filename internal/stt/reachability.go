package stt

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/config"
)

const deepgramAddr = "api.deepgram.com:443"

// Endpoint returns the host:port the configured transcription mode dials
func Endpoint(cfg *config.Config) (string, error) {
	var raw string
	switch cfg.TranscriptionMode {
	case config.ModeStreaming:
		raw = cfg.TranscriptionWSURL
	case config.ModeBatch:
		raw = cfg.BatchEndpoint
	case config.ModeDeepgram:
		return deepgramAddr, nil
	default:
		return "", fmt.Errorf("unknown transcription mode %q", cfg.TranscriptionMode)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse transcription endpoint: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("transcription endpoint %q has no host", raw)
	}

	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "wss", "https":
			port = "443"
		case "ws", "http":
			port = "80"
		default:
			return "", fmt.Errorf("transcription endpoint %q has unsupported scheme %q", raw, u.Scheme)
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// CheckReachable reports whether addr accepts TCP connections before ctx expires.
// It opens no transcription session, so it is safe for readiness checks.
func CheckReachable(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("transcription endpoint %s unreachable: %w", addr, err)
	}
	return conn.Close()
}

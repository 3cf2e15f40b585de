package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
)

func TestSocketCapture_FramesPushedAudio(t *testing.T) {
	c := NewSocketCapture(4096, 65536)

	var frames [][]byte
	if err := c.Open(context.Background(), func(frame []byte) {
		frames = append(frames, frame)
	}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// 1.5 frames, then the other half
	first := make([]byte, 8192+4096)
	for i := range first {
		first[i] = byte(i)
	}
	n, err := c.Push(first)
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if n != 1 || len(frames) != 1 {
		t.Fatalf("Expected 1 frame after first push, got %d (%d delivered)", n, len(frames))
	}
	if len(frames[0]) != 8192 {
		t.Errorf("Expected frame of 8192 bytes, got %d", len(frames[0]))
	}

	n, _ = c.Push(make([]byte, 4096))
	if n != 1 || len(frames) != 2 {
		t.Errorf("Expected second frame after completing it, got %d (%d delivered)", n, len(frames))
	}
	if frames[1][0] != first[8192] {
		t.Errorf("Expected second frame to start with leftover bytes")
	}
}

func TestSocketCapture_LargePushLargerThanBuffer(t *testing.T) {
	c := NewSocketCapture(4, 9)

	count := 0
	c.Open(context.Background(), func(frame []byte) { count++ })

	n, err := c.Push(make([]byte, 40))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if n != 10 || count != 10 {
		t.Errorf("Expected 10 frames, got %d (%d delivered)", n, count)
	}
}

func TestSocketCapture_DeniedMicrophone(t *testing.T) {
	c := NewSocketCapture(4096, 65536)
	c.Deny("NotAllowedError")

	err := c.Open(context.Background(), func([]byte) {})
	if !errors.Is(err, ErrMicrophoneUnavailable) {
		t.Errorf("Expected ErrMicrophoneUnavailable, got %v", err)
	}
	if c.ActiveTracks() != 0 {
		t.Errorf("Expected 0 active tracks, got %d", c.ActiveTracks())
	}

	c.Allow()
	if err := c.Open(context.Background(), func([]byte) {}); err != nil {
		t.Errorf("Expected Open to succeed after Allow, got %v", err)
	}
}

func TestSocketCapture_Busy(t *testing.T) {
	c := NewSocketCapture(4096, 65536)
	if err := c.Open(context.Background(), func([]byte) {}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := c.Open(context.Background(), func([]byte) {}); !errors.Is(err, ErrMicrophoneBusy) {
		t.Errorf("Expected ErrMicrophoneBusy, got %v", err)
	}
}

func TestSocketCapture_CloseReleases(t *testing.T) {
	c := NewSocketCapture(4096, 65536)
	c.Open(context.Background(), func([]byte) {})

	if c.ActiveTracks() != 1 {
		t.Errorf("Expected 1 active track while open, got %d", c.ActiveTracks())
	}

	c.Close()
	c.Close()

	if c.ActiveTracks() != 0 {
		t.Errorf("Expected 0 active tracks after close, got %d", c.ActiveTracks())
	}
	if _, err := c.Push(make([]byte, 8192)); !errors.Is(err, ErrCaptureClosed) {
		t.Errorf("Expected ErrCaptureClosed, got %v", err)
	}
}

func TestBytesToSamples(t *testing.T) {
	samples, err := BytesToSamples(SamplesToBytes([]int16{-2, 0, 300}))
	if err != nil {
		t.Fatalf("BytesToSamples failed: %v", err)
	}
	if len(samples) != 3 || samples[0] != -2 || samples[2] != 300 {
		t.Errorf("Unexpected samples %v", samples)
	}

	if _, err := BytesToSamples([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for odd-length input")
	}
}

func TestEncodeWAV(t *testing.T) {
	pcm := make([]byte, 3200)
	wav := EncodeWAV(pcm, 16000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("Expected %d bytes, got %d", 44+len(pcm), len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Error("Expected RIFF/WAVE/data markers")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", rate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); size != 3200 {
		t.Errorf("Expected data size 3200, got %d", size)
	}
}

func TestFrameDuration(t *testing.T) {
	if d := FrameDuration(8192, 16000); d != 0.256 {
		t.Errorf("Expected 0.256s per frame, got %f", d)
	}
}

package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrMicrophoneUnavailable means the client denied or lost microphone access
	ErrMicrophoneUnavailable = errors.New("microphone unavailable")
	// ErrMicrophoneBusy means a capture is already open for this session
	ErrMicrophoneBusy = errors.New("microphone already in use")
	// ErrCaptureClosed is returned when pushing audio into a closed capture
	ErrCaptureClosed = errors.New("audio capture is closed")
)

// FrameHandler receives fixed-size PCM16 frames. The slice is owned by the callee.
type FrameHandler func(frame []byte)

// Capture is a microphone stream framed for transport
type Capture interface {
	// Open acquires the microphone and starts delivering frames to onFrame
	Open(ctx context.Context, onFrame FrameHandler) error

	// Close releases the microphone. Safe to call more than once.
	Close() error

	// ActiveTracks reports the number of live audio tracks (0 or 1)
	ActiveTracks() int
}

// SocketCapture frames raw PCM16 pushed by a remote client (the browser
// owns the physical microphone and streams bytes over a websocket).
type SocketCapture struct {
	frameBytes int

	mu      sync.Mutex
	buffer  *RingBuffer
	onFrame FrameHandler
	open    bool
	denied  error
}

// NewSocketCapture creates a capture that emits frames of frameSamples
// samples, buffering up to bufferSize bytes between pushes.
func NewSocketCapture(frameSamples, bufferSize int) *SocketCapture {
	frameBytes := frameSamples * 2
	if bufferSize <= frameBytes {
		bufferSize = frameBytes*2 + 1
	}
	return &SocketCapture{
		frameBytes: frameBytes,
		buffer:     NewRingBuffer(bufferSize),
	}
}

// Deny records that the client refused microphone access. The next Open
// fails with ErrMicrophoneUnavailable until Allow is called.
func (c *SocketCapture) Deny(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if reason == "" {
		reason = "permission denied"
	}
	c.denied = fmt.Errorf("%w: %s", ErrMicrophoneUnavailable, reason)
}

// Allow clears a previous denial
func (c *SocketCapture) Allow() {
	c.mu.Lock()
	c.denied = nil
	c.mu.Unlock()
}

// Open starts framing pushed audio into onFrame
func (c *SocketCapture) Open(ctx context.Context, onFrame FrameHandler) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.denied != nil {
		return c.denied
	}
	if c.open {
		return ErrMicrophoneBusy
	}

	c.buffer.Clear()
	c.onFrame = onFrame
	c.open = true
	return nil
}

// Push appends client audio and delivers every complete frame.
// It returns the number of frames delivered.
func (c *SocketCapture) Push(data []byte) (int, error) {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return 0, ErrCaptureClosed
	}

	var frames [][]byte
	for len(data) > 0 {
		n := c.buffer.Write(data)
		data = data[n:]

		drained := false
		for {
			frame := make([]byte, c.frameBytes)
			if !c.buffer.ReadFull(frame) {
				break
			}
			frames = append(frames, frame)
			drained = true
		}
		if n == 0 && !drained {
			break
		}
	}
	handler := c.onFrame
	c.mu.Unlock()

	if handler != nil {
		for _, frame := range frames {
			handler(frame)
		}
	}
	return len(frames), nil
}

// Close releases the microphone and discards any partial frame
func (c *SocketCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.open = false
	c.onFrame = nil
	c.buffer.Clear()
	return nil
}

// ActiveTracks reports 1 while open
func (c *SocketCapture) ActiveTracks() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open {
		return 1
	}
	return 0
}

// FrameBytes returns the size of each delivered frame
func (c *SocketCapture) FrameBytes() int {
	return c.frameBytes
}

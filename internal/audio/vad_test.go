package audio

import (
	"math"
	"testing"
)

const testSampleRate = 16000

// tone returns n samples alternating between +amp and -amp, so its RMS is amp
func tone(n int, amp int16) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = amp
		} else {
			samples[i] = -amp
		}
	}
	return samples
}

func TestDefaultVADConfig(t *testing.T) {
	config := DefaultVADConfig()
	if config.EnergyThreshold != 500.0 {
		t.Errorf("Expected default EnergyThreshold 500.0, got %f", config.EnergyThreshold)
	}
	if config.SilenceFrames != 10 {
		t.Errorf("Expected default SilenceFrames 10, got %d", config.SilenceFrames)
	}
	if got := FrameDuration(config.FrameSize*2, testSampleRate); math.Abs(got-0.256) > 1e-9 {
		t.Errorf("Expected 0.256s frames at 16kHz, got %v", got)
	}
}

func TestVADDetector_SpeechThenSilence(t *testing.T) {
	config := DefaultVADConfig()
	vad := NewVADDetector(nil)
	speech := tone(config.FrameSize, 4000)
	quiet := tone(config.FrameSize, 20)

	speaking, started, _ := vad.ProcessFrame(speech)
	if !speaking || !started {
		t.Fatalf("Expected speech to start on first loud frame, got speaking=%v started=%v", speaking, started)
	}
	if _, started, _ := vad.ProcessFrame(speech); started {
		t.Error("Expected start to be reported once")
	}

	// About 2.3s of silence keeps the speaker open
	for i := 1; i < config.SilenceFrames; i++ {
		speaking, _, ended := vad.ProcessFrame(quiet)
		if !speaking || ended {
			t.Fatalf("Expected speech to hold through silent frame %d", i)
		}
	}

	speaking, _, ended := vad.ProcessFrame(quiet)
	if speaking || !ended {
		t.Errorf("Expected speech to end after %d silent frames, got speaking=%v ended=%v", config.SilenceFrames, speaking, ended)
	}
	if vad.IsSpeaking() {
		t.Error("Expected detector to report silence after speech ended")
	}
}

func TestVADDetector_SpeechResetsSilenceCount(t *testing.T) {
	config := DefaultVADConfig()
	vad := NewVADDetector(config)
	speech := tone(config.FrameSize, 4000)
	quiet := tone(config.FrameSize, 20)

	vad.ProcessFrame(speech)
	for i := 0; i < config.SilenceFrames-1; i++ {
		vad.ProcessFrame(quiet)
	}
	vad.ProcessFrame(speech)
	for i := 0; i < config.SilenceFrames-1; i++ {
		if _, _, ended := vad.ProcessFrame(quiet); ended {
			t.Fatalf("Expected a loud frame to restart the silence count, ended at frame %d", i)
		}
	}

	vad.Reset()
	if vad.IsSpeaking() {
		t.Error("Expected speech state to be false after reset")
	}
}

func TestVADDetector_Threshold(t *testing.T) {
	tests := []struct {
		name      string
		threshold float64
		amplitude int16
		want      bool
	}{
		{"room noise under default", 500, 120, false},
		{"normal voice over default", 500, 3000, true},
		{"at threshold is silence", 500, 500, false},
		{"sensitive threshold", 100, 300, true},
		{"strict threshold", 5000, 3000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vad := NewVADDetector(&VADConfig{EnergyThreshold: tt.threshold, SilenceFrames: 10, FrameSize: 4096})
			speaking, _, _ := vad.ProcessFrame(tone(4096, tt.amplitude))
			if speaking != tt.want {
				t.Errorf("Expected speaking=%v, got %v", tt.want, speaking)
			}
		})
	}
}

func TestVADDetector_ContainsSpeech(t *testing.T) {
	// One 15 second batch window, which is not a whole number of frames
	windowSamples := 15 * testSampleRate

	tests := []struct {
		name  string
		build func() []byte
		want  bool
	}{
		{"silence", func() []byte {
			return SamplesToBytes(make([]int16, windowSamples))
		}, false},
		{"steady hum below threshold", func() []byte {
			return SamplesToBytes(tone(windowSamples, 300))
		}, false},
		{"one spoken word", func() []byte {
			samples := make([]int16, windowSamples)
			// 250ms of speech starting at 7s
			copy(samples[7*testSampleRate:], tone(testSampleRate/4, 3000))
			return SamplesToBytes(samples)
		}, true},
		{"short burst inside one frame", func() []byte {
			samples := make([]int16, windowSamples)
			// 25ms at high amplitude still lifts the frame RMS over the threshold
			copy(samples[4096*3+100:], tone(400, 20000))
			return SamplesToBytes(samples)
		}, true},
		{"speech in trailing partial frame", func() []byte {
			samples := make([]int16, windowSamples)
			copy(samples[windowSamples-1000:], tone(1000, 5000))
			return SamplesToBytes(samples)
		}, true},
		{"odd byte count", func() []byte {
			return append(SamplesToBytes(make([]int16, 4096)), 0x7f)
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vad := NewVADDetector(DefaultVADConfig())
			if got := vad.ContainsSpeech(tt.build()); got != tt.want {
				t.Errorf("Expected ContainsSpeech=%v, got %v", tt.want, got)
			}
			if vad.IsSpeaking() {
				t.Error("Expected detector state to be reset after scanning a window")
			}
		})
	}
}

func TestCalculateRMS(t *testing.T) {
	tests := []struct {
		name    string
		samples []int16
		want    float64
	}{
		{"empty", nil, 0},
		{"silence", make([]int16, 4096), 0},
		{"square wave", tone(4096, 3000), 3000},
		{"mixed", []int16{1000, -1000, 2000, -2000}, math.Sqrt(2500000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateRMS(tt.samples); math.Abs(got-tt.want) > 0.01 {
				t.Errorf("Expected RMS %.2f, got %.2f", tt.want, got)
			}
		})
	}
}

package minutes

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/observability"
)

// Fallback texts returned in place of minutes
const (
	ErrorFallback = "Error: Unable to generate meeting minutes due to network interference."
	EmptyFallback = "Failed to generate MOM. Please check system connection."
)

// Result is the outcome of one synthesis. Text is always displayable;
// Fallback marks it as one of the fixed apology strings.
type Result struct {
	Text        string    `json:"text"`
	Fallback    bool      `json:"fallback"`
	GeneratedAt time.Time `json:"generatedAt"`
	Err         error     `json:"-"`
}

// Generate builds the prompt and calls synth. Failures never propagate:
// an error yields ErrorFallback and empty output yields EmptyFallback.
// metrics may be nil.
func Generate(ctx context.Context, synth Synthesizer, req Request, logger zerolog.Logger, metrics *observability.Metrics) Result {
	start := time.Now()

	text, err := synth.Complete(ctx, BuildPrompt(req))
	latency := time.Since(start)

	result := Result{Text: text, GeneratedAt: time.Now()}
	switch {
	case err != nil:
		logger.Error().Err(err).Dur("latency", latency).Msg("Minutes generation failed")
		result = Result{Text: ErrorFallback, Fallback: true, Err: err, GeneratedAt: result.GeneratedAt}
	case strings.TrimSpace(text) == "":
		logger.Warn().Dur("latency", latency).Msg("Minutes generation returned no text")
		result = Result{Text: EmptyFallback, Fallback: true, GeneratedAt: result.GeneratedAt}
	default:
		logger.Info().
			Dur("latency", latency).
			Int("transcript_lines", len(req.Transcript)).
			Int("highlights", len(req.Highlights)).
			Msg("Minutes generated")
	}

	if metrics != nil {
		metrics.RecordMinutes(!result.Fallback, latency)
	}
	return result
}

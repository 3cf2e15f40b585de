// Package meetlink creates shareable meeting links, either locally or
// through a calendar-backed link service.
package meetlink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/resilience"
)

// Host is the domain used by locally generated links
const Host = "leadq.meet"

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// Request describes the meeting to create a link for
type Request struct {
	Subject   string     `json:"subject"`
	StartTime *time.Time `json:"startTime,omitempty"`
	Instant   bool       `json:"instant"`
}

// Link is a created meeting link
type Link struct {
	URL       string `json:"url"`
	EventLink string `json:"eventLink,omitempty"`
	ID        string `json:"id,omitempty"`
	Generated bool   `json:"generated"`
}

// Generator creates meeting links
type Generator interface {
	Create(ctx context.Context, req Request) (Link, error)
}

// RandomGenerator builds links of the form
// leadq.meet/{inst|sch}-{5 base36 chars}-{last 4 digits of unix ms}
type RandomGenerator struct {
	now func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomGenerator creates a generator seeded from the clock
func NewRandomGenerator() *RandomGenerator {
	return &RandomGenerator{
		now: time.Now,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Create implements Generator
func (g *RandomGenerator) Create(_ context.Context, req Request) (Link, error) {
	prefix := "sch"
	if req.Instant || req.StartTime == nil {
		prefix = "inst"
	}

	g.mu.Lock()
	var id [5]byte
	for i := range id {
		id[i] = base36[g.rng.Intn(len(base36))]
	}
	g.mu.Unlock()

	ms := strconv.FormatInt(g.now().UnixMilli(), 10)
	if len(ms) > 4 {
		ms = ms[len(ms)-4:]
	}

	return Link{
		URL:       fmt.Sprintf("%s/%s-%s-%s", Host, prefix, id[:], ms),
		Generated: true,
	}, nil
}

// restRequest is the link service request body
type restRequest struct {
	Summary   string  `json:"summary"`
	StartTime *string `json:"start_time"`
	EndTime   *string `json:"end_time"`
}

// restResponse is the link service response body
type restResponse struct {
	MeetURL   string `json:"meet_url"`
	EventLink string `json:"event_link"`
	ID        string `json:"id"`
}

// RESTGenerator asks an HTTP link service to create a calendar-backed
// meeting. Any failure falls back to the local generator.
type RESTGenerator struct {
	url      string
	client   *http.Client
	retry    *resilience.RetryConfig
	fallback Generator
	logger   zerolog.Logger
}

// NewRESTGenerator creates a generator that POSTs to url
func NewRESTGenerator(url string, timeout time.Duration, fallback Generator, logger zerolog.Logger) *RESTGenerator {
	if fallback == nil {
		fallback = NewRandomGenerator()
	}
	return &RESTGenerator{
		url:      url,
		client:   &http.Client{Timeout: timeout},
		retry:    resilience.DefaultRetryConfig(),
		fallback: fallback,
		logger:   logger.With().Str("component", "meetlink").Logger(),
	}
}

// Create implements Generator
func (g *RESTGenerator) Create(ctx context.Context, req Request) (Link, error) {
	var link Link
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		var err error
		link, err = g.post(ctx, req)
		return err
	}, g.retry, resilience.IsRetryableNetworkError)
	if err == nil {
		return link, nil
	}

	g.logger.Warn().Err(err).Str("subject", req.Subject).Msg("Link service unavailable, generating link locally")
	return g.fallback.Create(ctx, req)
}

func (g *RESTGenerator) post(ctx context.Context, req Request) (Link, error) {
	body := restRequest{Summary: req.Subject}
	if !req.Instant && req.StartTime != nil {
		s := req.StartTime.Format("2006-01-02T15:04:05")
		body.StartTime = &s
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Link{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return Link{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := g.client.Do(httpReq)
	if err != nil {
		return Link{}, resilience.NewRetryableError(fmt.Errorf("send request: %w", err))
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		err := fmt.Errorf("link service returned status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
		if res.StatusCode >= 500 {
			return Link{}, resilience.NewRetryableError(err)
		}
		return Link{}, err
	}

	var out restResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return Link{}, fmt.Errorf("decode response: %w", err)
	}
	if out.MeetURL == "" {
		return Link{}, fmt.Errorf("link service returned no meet_url")
	}

	return Link{URL: out.MeetURL, EventLink: out.EventLink, ID: out.ID}, nil
}

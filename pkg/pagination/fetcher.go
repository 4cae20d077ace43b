package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/shopify-export/pkg/client"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for paginated reads.
var (
	shopPagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_pages_fetched_total",
		Help: "Total pages read successfully by resource",
	}, []string{"resource"})

	shopFetchSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_fetch_sessions_total",
		Help: "Total fetch sessions by resource and final status",
	}, []string{"resource", "status"})
)

// MaxPageSize is the largest limit the Admin API accepts.
const MaxPageSize = 250

var (
	// ErrStopped ends a session whose consumer stopped pulling records.
	ErrStopped = errors.New("consumer stopped iteration")

	// ErrPageLimit ends a session that reached Config.MaxPages.
	ErrPageLimit = errors.New("page limit reached")

	// ErrMalformedPage is returned when the record key holds something other
	// than an array of objects.
	ErrMalformedPage = errors.New("malformed page")

	// ErrCursorLoop ends a session whose next cursor repeats the page just read.
	ErrCursorLoop = errors.New("next cursor repeats the current page")

	// ErrInvalidSeed is returned for a seed that is not an absolute URL.
	ErrInvalidSeed = errors.New("seed url must be absolute")
)

// Record is one opaque item from a listing endpoint.
type Record = map[string]any

// Cursor points at the next page.
type Cursor struct {
	URL string
}

// PageRequest describes one page read. The session ends when URL is nil.
type PageRequest struct {
	URL   *url.URL
	Key   string
	Retry client.RetryConfig
}

// Page is the outcome of one successful read. Next is nil when the data is
// exhausted.
type Page struct {
	Records []Record
	Next    *Cursor
}

// PageGetter reads one page with a retry budget. *client.Client implements it.
type PageGetter interface {
	GetPage(ctx context.Context, rawURL string, retry client.RetryConfig) (*client.Response, error)
}

// Config holds fetcher configuration.
type Config struct {
	// Strategy derives continuation cursors. Defaults to SinceIDStrategy.
	Strategy Strategy

	// PageSize is written as limit= on the seed when it has none. Capped at
	// MaxPageSize; zero leaves the server default.
	PageSize int

	// Retry is the per-page budget. The zero value defers to the getter's default.
	Retry client.RetryConfig

	// MaxPages stops a session after this many pages. Zero means unlimited.
	MaxPages int
}

// DefaultConfig returns the configuration used by the exporters.
func DefaultConfig() Config {
	return Config{
		Strategy: SinceIDStrategy{},
		PageSize: MaxPageSize,
		Retry:    client.DefaultRetryConfig(),
	}
}

// Fetcher reads every page of a listing endpoint in order.
type Fetcher struct {
	getter PageGetter
	config Config
	logger zerolog.Logger
}

// NewFetcher creates a fetcher.
func NewFetcher(getter PageGetter, config Config, logger zerolog.Logger) *Fetcher {
	if config.Strategy == nil {
		config.Strategy = SinceIDStrategy{}
	}
	if config.PageSize > MaxPageSize {
		config.PageSize = MaxPageSize
	}
	if config.PageSize < 0 {
		config.PageSize = 0
	}
	if config.MaxPages < 0 {
		config.MaxPages = 0
	}

	return &Fetcher{
		getter: getter,
		config: config,
		logger: logger.With().Str("component", "pagination").Logger(),
	}
}

// Config returns the effective configuration.
func (f *Fetcher) Config() Config {
	return f.config
}

// FetchPage reads one page and derives its continuation. When the records
// were read but no cursor could be derived, the page is returned together
// with the error.
func (f *Fetcher) FetchPage(ctx context.Context, req PageRequest) (Page, error) {
	if req.URL == nil {
		return Page{}, fmt.Errorf("fetch page: nil url")
	}

	resp, err := f.getter.GetPage(ctx, req.URL.String(), req.Retry)
	if err != nil {
		return Page{}, err
	}

	records, err := extractRecords(resp.Body, req.Key)
	if err != nil {
		return Page{}, fmt.Errorf("%s: %w", req.URL.Redacted(), err)
	}
	shopPagesFetchedTotal.WithLabelValues(client.ResourceLabel(req.URL.Path)).Inc()

	next, err := f.config.Strategy.Next(req.URL, resp, records, f.config.PageSize)
	if err != nil {
		return Page{Records: records}, err
	}
	return Page{Records: records, Next: next}, nil
}

// Stream starts a lazy fetch session for seed. Nothing is read until the
// records are ranged over.
func (f *Fetcher) Stream(ctx context.Context, seed, key string) *Stream {
	return &Stream{
		fetcher: f,
		ctx:     ctx,
		seed:    seed,
		key:     key,
		result: Result{
			SessionID: uuid.NewString(),
			Status:    StatusPending,
		},
	}
}

// Collect reads every record of seed into a slice.
func (f *Fetcher) Collect(ctx context.Context, seed, key string) ([]Record, Result) {
	stream := f.Stream(ctx, seed, key)

	var records []Record
	for record := range stream.Records() {
		records = append(records, record)
	}
	return records, stream.Result()
}

// seedRequest validates seed and applies the page size.
func (f *Fetcher) seedRequest(seed, key string) (PageRequest, error) {
	u, err := url.Parse(seed)
	if err != nil {
		return PageRequest{}, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return PageRequest{}, fmt.Errorf("%w: %q", ErrInvalidSeed, seed)
	}

	if f.config.PageSize > 0 {
		q := u.Query()
		if q.Get("limit") == "" {
			q.Set("limit", strconv.Itoa(f.config.PageSize))
			u.RawQuery = q.Encode()
		}
	}

	return PageRequest{URL: u, Key: key, Retry: f.config.Retry}, nil
}

func extractRecords(body map[string]any, key string) ([]Record, error) {
	raw, ok := body[key]
	if !ok || raw == nil {
		return nil, nil
	}

	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q is %T, not an array", ErrMalformedPage, key, raw)
	}

	records := make([]Record, 0, len(items))
	for i, item := range items {
		record, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] is %T, not an object", ErrMalformedPage, key, i, item)
		}
		records = append(records, record)
	}
	return records, nil
}

// RecordID returns the record's "id" as a decimal string.
func RecordID(record Record) (string, bool) {
	switch id := record["id"].(type) {
	case json.Number:
		return id.String(), id.String() != ""
	case string:
		id = strings.TrimSpace(id)
		return id, id != ""
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case int:
		return strconv.Itoa(id), true
	case int64:
		return strconv.FormatInt(id, 10), true
	default:
		return "", false
	}
}

// Status is the final state of a fetch session.
type Status string

const (
	// StatusPending means the records have not been ranged over yet.
	StatusPending Status = "pending"

	// StatusComplete means every page was read.
	StatusComplete Status = "complete"

	// StatusPartial means the session ended early; yielded records are valid.
	StatusPartial Status = "partial"

	// StatusFailed means the session could not start.
	StatusFailed Status = "failed"
)

// Result summarizes a fetch session.
type Result struct {
	SessionID string
	Status    Status
	Pages     int
	Records   int
	Duration  time.Duration

	// Err is why a partial or failed session ended.
	Err error
}

// Complete reports whether every page was read.
func (r Result) Complete() bool {
	return r.Status == StatusComplete
}

// Stream is one fetch session. Its records can be ranged over once.
type Stream struct {
	fetcher *Fetcher
	ctx     context.Context
	seed    string
	key     string

	started bool
	result  Result
}

// Records yields every record of every page in server order. Pages are read
// as the consumer pulls. A second range yields nothing.
func (s *Stream) Records() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		if s.started {
			return
		}
		s.started = true

		start := time.Now()
		f := s.fetcher
		logger := f.logger.With().
			Str("session_id", s.result.SessionID).
			Str("strategy", f.config.Strategy.Name()).
			Logger()

		req, err := f.seedRequest(s.seed, s.key)
		if err != nil {
			s.result.Status = StatusFailed
			s.result.Err = err
			s.finish(logger, "invalid", start)
			return
		}
		resource := client.ResourceLabel(req.URL.Path)

		logger.Debug().
			Str("url", req.URL.Redacted()).
			Str("key", s.key).
			Msg("Starting fetch session")

		for req.URL != nil {
			if f.config.MaxPages > 0 && s.result.Pages >= f.config.MaxPages {
				s.end(StatusPartial, fmt.Errorf("%w (%d)", ErrPageLimit, f.config.MaxPages))
				break
			}

			page, err := f.FetchPage(s.ctx, req)
			if err != nil && page.Records == nil {
				s.end(StatusPartial, err)
				break
			}
			s.result.Pages++

			for _, record := range page.Records {
				s.result.Records++
				if !yield(record) {
					s.end(StatusPartial, ErrStopped)
					s.finish(logger, resource, start)
					return
				}
			}

			if err != nil {
				s.end(StatusPartial, err)
				break
			}

			if page.Next == nil {
				s.end(StatusComplete, nil)
				break
			}

			next, err := url.Parse(page.Next.URL)
			if err != nil {
				s.end(StatusPartial, fmt.Errorf("parse cursor: %w", err))
				break
			}
			if next.String() == req.URL.String() {
				s.end(StatusPartial, fmt.Errorf("%w: %s", ErrCursorLoop, next.Redacted()))
				break
			}
			req.URL = next

			if s.result.Pages%50 == 0 {
				logger.Info().
					Int("pages", s.result.Pages).
					Int("records", s.result.Records).
					Msg("Fetch progress")
			}
		}

		s.finish(logger, resource, start)
	}
}

// Result returns the session summary. It is final once the records were
// ranged over.
func (s *Stream) Result() Result {
	return s.result
}

// Err returns why the session ended early, nil when it completed.
func (s *Stream) Err() error {
	return s.result.Err
}

func (s *Stream) end(status Status, err error) {
	s.result.Status = status
	s.result.Err = err
}

func (s *Stream) finish(logger zerolog.Logger, resource string, start time.Time) {
	s.result.Duration = time.Since(start)
	shopFetchSessionsTotal.WithLabelValues(resource, string(s.result.Status)).Inc()

	event := logger.Info()
	if s.result.Status != StatusComplete {
		event = logger.Warn().Err(s.result.Err)
	}
	event.
		Str("resource", resource).
		Str("status", string(s.result.Status)).
		Int("pages", s.result.Pages).
		Int("records", s.result.Records).
		Dur("duration", s.result.Duration).
		Msg("Fetch session finished")
}

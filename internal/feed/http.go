package feed

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"stackcast/internal/features"
)

// Options configures the HTTP observation source.
type Options struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	RequestsPerSec float64
	Burst          int
	MaxRetryTime   time.Duration
}

// HTTPSource pulls observations from a telemetry collection endpoint. Requests
// are rate limited and retried with exponential backoff; 4xx responses are not
// retried.
type HTTPSource struct {
	base     string
	apiKey   string
	rest     *resty.Client
	limiter  *rate.Limiter
	maxRetry time.Duration
	log      zerolog.Logger
}

// NewHTTPSource builds a source against opts.BaseURL. Zero option fields fall
// back to conservative defaults.
func NewHTTPSource(opts Options, log zerolog.Logger) *HTTPSource {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.MaxRetryTime <= 0 {
		opts.MaxRetryTime = 30 * time.Second
	}

	r := resty.New()
	r.SetTimeout(opts.Timeout)

	return &HTTPSource{
		base:     strings.TrimRight(opts.BaseURL, "/"),
		apiKey:   opts.APIKey,
		rest:     r,
		limiter:  rate.NewLimiter(rate.Limit(opts.RequestsPerSec), opts.Burst),
		maxRetry: opts.MaxRetryTime,
		log:      log.With().Str("component", "feed").Logger(),
	}
}

// wireObservation is the endpoint's row format. Timestamps travel as unix
// milliseconds.
type wireObservation struct {
	Ts     int64   `json:"ts"`
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
	Tech   float64 `json:"tech_score"`
	Social float64 `json:"social_score"`
	Fund   float64 `json:"fund_score"`
	Astro  float64 `json:"astro_score"`
}

// StatusError reports a non-success response from the feed endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("feed: status %d: %s", e.Code, e.Body)
}

// Fetch pulls up to limit observations for asset recorded at or after since.
// A zero since means "from the beginning"; rows failing validation are dropped
// with a warning.
func (s *HTTPSource) Fetch(ctx context.Context, asset string, since time.Time, limit int) ([]features.Observation, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := map[string]string{
		"asset": asset,
		"limit": strconv.Itoa(limit),
	}
	if !since.IsZero() {
		params["since"] = strconv.FormatInt(since.UnixMilli(), 10)
	}

	var rows []wireObservation
	operation := func() error {
		rows = nil
		req := s.rest.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetResult(&rows)
		if s.apiKey != "" {
			req.SetHeader("api-key", s.apiKey)
		}
		resp, err := req.Get(s.base + "/observations")
		if err != nil {
			return err
		}
		if resp.StatusCode() != http.StatusOK {
			statusErr := &StatusError{Code: resp.StatusCode(), Body: resp.String()}
			if resp.StatusCode() >= 400 && resp.StatusCode() < 500 {
				return backoff.Permanent(statusErr)
			}
			return statusErr
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = s.maxRetry
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("fetch observations for %s: %w", asset, err)
	}

	out := make([]features.Observation, 0, len(rows))
	for _, w := range rows {
		o := features.Observation{
			Ts:     time.UnixMilli(w.Ts).UTC(),
			Price:  w.Price,
			Volume: w.Volume,
			Tech:   w.Tech,
			Social: w.Social,
			Fund:   w.Fund,
			Astro:  w.Astro,
		}
		if err := o.Validate(); err != nil {
			s.log.Warn().Err(err).Int64("ts", w.Ts).Str("asset", asset).Msg("dropping invalid observation")
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ts.Before(out[j].Ts) })
	return out, nil
}

// Package fanout delivers a price to every configured trading bot at once.
package fanout

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc"

	"ndx-relay/internal/dedup"
)

// DefaultPath is appended to each endpoint's base URL.
const DefaultPath = "/notify"

// Options parameterise the fanout.
type Options struct {
	Endpoints []string
	Path      string
	Timeout   time.Duration
}

// Result is the outcome of one endpoint's delivery attempt.
type Result struct {
	Endpoint   string
	URL        string
	StatusCode int
	Duration   time.Duration
	Err        error
}

// OK reports whether the endpoint answered 200.
func (r Result) OK() bool {
	return r.Err == nil
}

// Fanout posts price notifications to trading bots.
type Fanout struct {
	endpoints []string
	path      string
	client    *http.Client
	logger    zerolog.Logger
}

// New constructs a Fanout. Endpoints are used in the given order.
func New(opts Options, logger zerolog.Logger) *Fanout {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	path := opts.Path
	if path == "" {
		path = DefaultPath
	}

	return &Fanout{
		endpoints: append([]string(nil), opts.Endpoints...),
		path:      path,
		client:    &http.Client{Timeout: timeout},
		logger:    logger.With().Str("component", "fanout").Logger(),
	}
}

// Endpoints returns a copy of the configured base URLs.
func (f *Fanout) Endpoints() []string {
	return append([]string(nil), f.endpoints...)
}

// Dispatch tracks the deliveries started by one SendAll call.
type Dispatch struct {
	wg      *conc.WaitGroup
	results []Result
}

// Wait blocks until every delivery finished and returns results in endpoint
// order.
func (d *Dispatch) Wait() []Result {
	d.wg.Wait()
	return d.results
}

// Summary counts delivered and failed endpoints.
func Summary(results []Result) (delivered, failed int) {
	delivered = lo.CountBy(results, func(r Result) bool { return r.OK() })
	return delivered, len(results) - delivered
}

// SendAll starts one delivery per endpoint and returns without waiting.
// Deliveries ignore cancellation of ctx; each is bounded by the client
// timeout only.
func (f *Fanout) SendAll(ctx context.Context, price float64) *Dispatch {
	ctx = context.WithoutCancel(ctx)
	literal := dedup.FormatPrice(price)

	d := &Dispatch{
		wg:      conc.NewWaitGroup(),
		results: make([]Result, len(f.endpoints)),
	}
	for i, endpoint := range f.endpoints {
		i, endpoint := i, endpoint
		d.wg.Go(func() {
			d.results[i] = f.deliver(ctx, endpoint, literal)
		})
	}
	return d
}

func (f *Fanout) deliver(ctx context.Context, endpoint, price string) (res Result) {
	started := time.Now()
	res = Result{Endpoint: endpoint, URL: f.notifyURL(endpoint, price)}

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("delivery panicked: %v", r)
		}
		res.Duration = time.Since(started)
		f.logResult(res)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, res.URL, nil)
	if err != nil {
		res.Err = fmt.Errorf("create notify request: %w", err)
		return res
	}

	resp, err := f.client.Do(req)
	if err != nil {
		res.Err = fmt.Errorf("send notify request: %w", err)
		return res
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		res.Err = fmt.Errorf("trading bot responded %d", resp.StatusCode)
	}
	return res
}

func (f *Fanout) notifyURL(endpoint, price string) string {
	base := strings.TrimRight(endpoint, "/")
	return base + f.path + "?" + url.Values{"price": []string{price}}.Encode()
}

func (f *Fanout) logResult(res Result) {
	if res.OK() {
		f.logger.Info().Str("endpoint", res.Endpoint).
			Str("url", res.URL).
			Dur("took", res.Duration).
			Msg("price sent to trading bot")
		return
	}
	f.logger.Error().Err(res.Err).
		Str("endpoint", res.Endpoint).
		Str("url", res.URL).
		Int("status", res.StatusCode).
		Dur("took", res.Duration).
		Msg("could not send price to trading bot")
}

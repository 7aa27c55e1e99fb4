package collyfetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/webspider/internal/spider"
)

// Prober fetches single pages synchronously. It backs site registration,
// where a URL must be fetched once before a scan can seed from it.
type Prober struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// NewProber builds a Prober sharing the engine's collector settings.
func NewProber(cfg Config, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.ParseHTTPErrorResponse())
	c.AllowURLRevisit = true
	c.WithTransport(newRobotsTransport(newHTTPTransport(), logger))
	return &Prober{cfg: cfg, baseCollector: c, logger: logger.Named("prober")}
}

// Fetch GETs rawURL and returns the response as an unsaved Message.
func (p *Prober) Fetch(ctx context.Context, rawURL string) (spider.Message, error) {
	var (
		msg      spider.Message
		fetchErr error
	)
	collector := p.baseCollector.Clone()
	if p.cfg.UserAgent != "" {
		collector.UserAgent = p.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !p.cfg.RespectRobots
	timeout := p.cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	collector.OnRequest(func(r *colly.Request) {
		if err := p.cfg.Limiter.Wait(ctx, r.URL.String()); err != nil {
			fetchErr = err
			r.Abort()
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		msg = spider.Message{
			Method:     r.Request.Method,
			URI:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Reason:     http.StatusText(r.StatusCode),
			Body:       append([]byte(nil), r.Body...),
			FetchedAt:  time.Now().UTC(),
		}
		if r.Headers != nil {
			msg.Header = r.Headers.Clone()
			msg.ContentType = r.Headers.Get("Content-Type")
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()
	select {
	case <-ctx.Done():
		return spider.Message{}, fmt.Errorf("probe %s canceled: %w", rawURL, ctx.Err())
	case err := <-done:
		if err != nil {
			return spider.Message{}, fmt.Errorf("probe %s: %w", rawURL, err)
		}
		if fetchErr != nil {
			return spider.Message{}, fmt.Errorf("probe %s: %w", rawURL, fetchErr)
		}
		if !msg.HasResponse() {
			return spider.Message{}, fmt.Errorf("probe %s: no response", rawURL)
		}
		p.logger.Debug("probed", zap.String("uri", msg.URI), zap.Int("status", msg.StatusCode))
		return msg, nil
	}
}

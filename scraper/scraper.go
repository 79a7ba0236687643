package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-etl-banks/config"
	"github.com/aluiziolira/go-etl-banks/metrics"
)

const (
	ctxStart  = "start"
	ctxBody   = "body"
	ctxStatus = "status"
)

// Scraper fetches the source document with a colly collector.
type Scraper struct {
	collector *colly.Collector
	cache     DocumentCache
	Metrics   *metrics.Metrics

	handlersOnce sync.Once
}

// NewScraper builds a scraper configured from cfg. cache may be nil.
func NewScraper(cfg *config.Config, cache DocumentCache, m *metrics.Metrics) (*Scraper, error) {
	parsed, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse source url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("source url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	return &Scraper{
		collector: collector,
		cache:     cache,
		Metrics:   m,
	}, nil
}

// Fetch returns the raw bytes of the document at target. Transport failures
// and non-success statuses are returned as *FetchError. ctx is checked before
// the request is issued only; an in-flight request is bounded by the
// configured timeout, not by ctx cancellation.
func (s *Scraper) Fetch(ctx context.Context, target string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{URL: target, Kind: errorTypeLabel(classifyError(err, 0)), Err: err}
	}

	if body, ok := s.cached(ctx, target); ok {
		return body, nil
	}

	s.configureHandlers()

	reqCtx := colly.NewContext()
	err := s.collector.Request(http.MethodGet, target, nil, reqCtx, nil)
	status, _ := reqCtx.GetAny(ctxStatus).(int)
	if err != nil {
		classified := classifyError(err, status)
		kind := errorTypeLabel(classified)
		s.Metrics.IncError(kind)
		return nil, &FetchError{URL: target, Status: status, Kind: kind, Err: classified}
	}

	body, _ := reqCtx.GetAny(ctxBody).([]byte)
	if body == nil {
		err := errors.New("empty response")
		s.Metrics.IncError("other")
		return nil, &FetchError{URL: target, Status: status, Kind: "other", Err: err}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, target, body); err != nil {
			slog.Warn("document cache store failed", slog.String("url", target), slog.Any("error", err))
		}
	}
	return body, nil
}

func (s *Scraper) cached(ctx context.Context, target string) ([]byte, bool) {
	if s.cache == nil {
		return nil, false
	}
	body, ok, err := s.cache.Get(ctx, target)
	switch {
	case err != nil:
		s.Metrics.IncCache("error")
		slog.Warn("document cache lookup failed", slog.String("url", target), slog.Any("error", err))
		return nil, false
	case ok:
		s.Metrics.IncCache("hit")
		slog.Debug("document served from cache", slog.String("url", target), slog.Int("bytes", len(body)))
		return body, true
	default:
		s.Metrics.IncCache("miss")
		return nil, false
	}
}

func (s *Scraper) configureHandlers() {
	s.handlersOnce.Do(func() {
		s.collector.OnRequest(func(r *colly.Request) {
			r.Ctx.Put(ctxStart, time.Now())
			s.Metrics.IncRequest("started")
			slog.Debug("fetching document", slog.String("url", r.URL.String()))
		})

		s.collector.OnResponse(func(r *colly.Response) {
			r.Ctx.Put(ctxStatus, r.StatusCode)
			r.Ctx.Put(ctxBody, r.Body)
			s.Metrics.IncRequest("completed")
			if start, ok := r.Ctx.GetAny(ctxStart).(time.Time); ok {
				s.Metrics.ObserveDuration(time.Since(start))
			}
		})

		s.collector.OnError(func(r *colly.Response, err error) {
			if r == nil || r.Ctx == nil {
				return
			}
			r.Ctx.Put(ctxStatus, r.StatusCode)
			target := ""
			if r.Request != nil && r.Request.URL != nil {
				target = r.Request.URL.String()
			}
			slog.Error("request error",
				slog.String("url", target),
				slog.Int("status", r.StatusCode),
				slog.Any("error", err),
			)
		})
	})
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		}
		if statusCode >= http.StatusBadRequest {
			return ErrStatus{Err: wrapped}
		}
	}

	if err == nil {
		return nil
	}
	return err
}

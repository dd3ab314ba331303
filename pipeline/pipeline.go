// Package pipeline sends backend requests with the current bearer token and
// recovers from an expired access token by refreshing it and resending the
// request exactly once.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/lumen-blog/blogctl/metrics"
	"github.com/lumen-blog/blogctl/tokenstore"
)

// DefaultTimeout bounds a single transmission.
const DefaultTimeout = 10 * time.Second

// RequestIDHeader carries the id of the originating request; a resend keeps
// the same id.
const RequestIDHeader = "X-Request-ID"

// Doer transmits one HTTP request. *retry.Client from go-httpretry
// satisfies it.
type Doer interface {
	DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error)
}

// TokenReader exposes the current credentials.
type TokenReader interface {
	Get() tokenstore.Credentials
}

// Session refreshes and terminates the session on the pipeline's behalf.
type Session interface {
	Refresh(ctx context.Context) (string, error)
	Logout(ctx context.Context)
}

// Observer is told about the refresh cycle of a request. tui.Displayer
// satisfies it.
type Observer interface {
	AccessTokenRejected()
	RefreshOK()
	RefreshFailed(err error)
}

type nopObserver struct{}

func (nopObserver) AccessTokenRejected()  {}
func (nopObserver) RefreshOK()            {}
func (nopObserver) RefreshFailed(_ error) {}

// Pipeline decorates outbound calls with credentials.
type Pipeline struct {
	baseURL  string
	doer     Doer
	tokens   TokenReader
	session  Session
	logger   *zap.Logger
	metrics  *metrics.Collector
	observer Observer
	timeout  time.Duration
}

type Option func(*Pipeline)

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(p *Pipeline) { p.metrics = c }
}

func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithTimeout sets the per-transmission timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

func New(baseURL string, doer Doer, tokens TokenReader, session Session, opts ...Option) *Pipeline {
	p := &Pipeline{
		baseURL:  strings.TrimRight(baseURL, "/"),
		doer:     doer,
		tokens:   tokens,
		session:  session,
		logger:   zap.NewNop(),
		observer: nopObserver{},
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.observer == nil {
		p.observer = nopObserver{}
	}
	return p
}

// Send transmits req. Any response other than 401 is returned as is. A 401
// on an ordinary request triggers one refresh and one resend; if the refresh
// fails the session is logged out and the refresh error is returned.
func (p *Pipeline) Send(ctx context.Context, req Request) (*Response, error) {
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}
	at := &attempt{req: req, id: uuid.NewString(), body: body}

	var token string
	if !req.Refresh && !req.Anonymous {
		token = p.tokens.Get().AccessToken
	}

	for {
		resp, err := p.transmit(ctx, at, token)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized || req.Anonymous {
			return resp, nil
		}

		if req.Refresh || at.retried {
			p.logger.Debug("pipeline.unauthorized",
				zap.String("request_id", at.id),
				zap.String("path", req.Path),
				zap.Bool("refresh_call", req.Refresh),
				zap.Bool("retried", at.retried))
			return nil, fmt.Errorf("%s %s: %w", req.Method, req.Path, ErrAuthExpired)
		}

		at.retried = true
		token, err = p.refresh(ctx, at)
		if err != nil {
			return nil, err
		}
		p.metrics.IncResend()
	}
}

// refresh obtains a new access token for at, logging the session out when
// that is impossible.
func (p *Pipeline) refresh(ctx context.Context, at *attempt) (string, error) {
	p.logger.Info("pipeline.access_token_rejected",
		zap.String("request_id", at.id),
		zap.String("path", at.req.Path))
	p.observer.AccessTokenRejected()

	token, err := p.session.Refresh(ctx)
	if err != nil && ctx.Err() != nil {
		// The caller gave up; that says nothing about the refresh token.
		p.observer.RefreshFailed(err)
		return "", err
	}
	if err != nil {
		p.logger.Warn("pipeline.refresh_failed",
			zap.String("request_id", at.id),
			zap.Error(err))
		p.observer.RefreshFailed(err)
		p.session.Logout(ctx)
		return "", err
	}
	p.observer.RefreshOK()
	return token, nil
}

func (p *Pipeline) transmit(ctx context.Context, at *attempt, token string) (*Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	url := p.url(at.req.Path)
	var body io.Reader
	if at.body != nil {
		body = bytes.NewReader(at.body)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, at.req.Method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range at.req.Header {
		httpReq.Header[k] = append([]string(nil), vs...)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(RequestIDHeader, at.id)
	if at.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(httpReq)
	}

	start := time.Now()
	resp, err := p.doer.DoWithContext(reqCtx, httpReq)
	p.metrics.ObserveDuration(at.req.Method, start)
	if err != nil {
		p.metrics.IncRequest(at.req.Method, 0)
		p.logger.Warn("pipeline.http_failed",
			zap.String("request_id", at.id),
			zap.String("url", url),
			zap.Error(err))
		return nil, &NetworkError{Method: at.req.Method, URL: url, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Method: at.req.Method, URL: url, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	p.metrics.IncRequest(at.req.Method, resp.StatusCode)
	p.logger.Debug("pipeline.http_done",
		zap.String("request_id", at.id),
		zap.String("method", at.req.Method),
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Bool("retried", at.retried),
		zap.Duration("elapsed", time.Since(start)))

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (p *Pipeline) url(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return p.baseURL + path
}

func encodeBody(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return data, nil
}

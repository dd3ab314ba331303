// Package session owns the admin session against the blog backend: login,
// access token refresh and logout. It builds the request pipeline that every
// other backend call goes through.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lumen-blog/blogctl/metrics"
	"github.com/lumen-blog/blogctl/pipeline"
	"github.com/lumen-blog/blogctl/tokenstore"
)

const (
	LoginPath   = "/admin/login"
	RefreshPath = "/admin/refresh"
)

// State is the client-side view of the session.
type State int

const (
	Anonymous State = iota
	Authenticated
)

func (s State) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	default:
		return "anonymous"
	}
}

// tokenResponse is the body of a successful login or refresh.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Controller drives the Anonymous/Authenticated state machine. The token
// store is only mutated from here.
type Controller struct {
	store    *tokenstore.Store
	pipeline *pipeline.Pipeline
	logger   *zap.Logger
	metrics  *metrics.Collector

	refreshGroup singleflight.Group

	mu       sync.Mutex
	onLogout []func()
}

type Option func(*controllerOptions)

type controllerOptions struct {
	logger       *zap.Logger
	metrics      *metrics.Collector
	pipelineOpts []pipeline.Option
}

func WithLogger(l *zap.Logger) Option {
	return func(o *controllerOptions) { o.logger = l }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(o *controllerOptions) { o.metrics = c }
}

// WithPipelineOptions passes extra options to the pipeline built by New.
func WithPipelineOptions(opts ...pipeline.Option) Option {
	return func(o *controllerOptions) { o.pipelineOpts = append(o.pipelineOpts, opts...) }
}

// New creates a Controller for the backend at baseURL together with its
// request pipeline.
func New(baseURL string, doer pipeline.Doer, store *tokenstore.Store, opts ...Option) *Controller {
	o := controllerOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Controller{
		store:   store,
		logger:  o.logger,
		metrics: o.metrics,
	}
	pipeOpts := append([]pipeline.Option{
		pipeline.WithLogger(o.logger),
		pipeline.WithMetrics(o.metrics),
	}, o.pipelineOpts...)
	c.pipeline = pipeline.New(baseURL, doer, store, c, pipeOpts...)
	return c
}

// Pipeline returns the authenticated request pipeline.
func (c *Controller) Pipeline() *pipeline.Pipeline {
	return c.pipeline
}

// State reports Authenticated while an access token is held. The backend may
// still reject it.
func (c *Controller) State() State {
	if c.store.Get().Authenticated() {
		return Authenticated
	}
	return Anonymous
}

// OnLogout registers fn to run after every logout.
func (c *Controller) OnLogout(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLogout = append(c.onLogout, fn)
}

// Login exchanges username and password for a token pair. On failure the
// returned error matches ErrLoginFailure and the store is unchanged.
func (c *Controller) Login(ctx context.Context, username, password string) error {
	tr, err := c.login(ctx, username, password)
	if err != nil {
		c.metrics.IncLogin(false)
		c.logger.Warn("session.login_failed", zap.String("user", username), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrLoginFailure, err)
	}

	c.store.Set(ctx, tokenstore.Credentials{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
	})
	c.metrics.IncLogin(true)
	c.logger.Info("session.login_success", zap.String("user", username))
	return nil
}

func (c *Controller) login(ctx context.Context, username, password string) (*tokenResponse, error) {
	resp, err := c.pipeline.Send(ctx, pipeline.Request{
		Method:    http.MethodPost,
		Path:      LoginPath,
		Body:      map[string]string{"username": username, "password": password},
		Anonymous: true,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, retrieveError(resp)
	}

	var tr tokenResponse
	if err := resp.Decode(&tr); err != nil {
		return nil, err
	}
	if err := validateTokenResponse(tr.AccessToken, tr.TokenType); err != nil {
		return nil, fmt.Errorf("invalid token response: %w", err)
	}
	if tr.RefreshToken == "" {
		return nil, errors.New("invalid token response: refresh_token is empty")
	}
	return &tr, nil
}

// Refresh obtains a new access token with the stored refresh token and
// returns it. Concurrent callers share one backend call. Errors match
// ErrRefreshFailure.
func (c *Controller) Refresh(ctx context.Context) (string, error) {
	// The shared call must not die with whichever caller started it.
	ch := c.refreshGroup.DoChan("refresh", func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrRefreshFailure, ctx.Err())
	}
}

func (c *Controller) refresh(ctx context.Context) (string, error) {
	refreshToken := c.store.Get().RefreshToken
	if refreshToken == "" {
		c.metrics.IncRefresh(false)
		return "", fmt.Errorf("%w: %w", ErrRefreshFailure, ErrNoRefreshToken)
	}

	resp, err := c.pipeline.Send(ctx, pipeline.Request{
		Method:  http.MethodPost,
		Path:    RefreshPath,
		Header:  http.Header{"Authorization": {"Bearer " + refreshToken}},
		Body:    struct{}{},
		Refresh: true,
	})
	if err == nil && !resp.OK() {
		err = retrieveError(resp)
	}
	var tr tokenResponse
	if err == nil {
		err = resp.Decode(&tr)
	}
	if err == nil {
		err = validateTokenResponse(tr.AccessToken, tr.TokenType)
	}
	if err != nil {
		c.metrics.IncRefresh(false)
		c.logger.Warn("session.refresh_failed", zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrRefreshFailure, err)
	}

	// A server that rotates refresh tokens sends a new one; otherwise the
	// empty field keeps the current refresh token.
	c.store.Set(ctx, tokenstore.Credentials{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
	})
	c.metrics.IncRefresh(true)
	c.logger.Info("session.refresh_success", zap.Bool("rotated", tr.RefreshToken != ""))
	return tr.AccessToken, nil
}

// Logout clears the stored credentials and notifies OnLogout hooks. It never
// fails and can be called any number of times.
func (c *Controller) Logout(ctx context.Context) {
	c.store.Clear(ctx)
	c.metrics.IncLogout()
	c.logger.Info("session.logout")

	c.mu.Lock()
	hooks := slices.Clone(c.onLogout)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// Claims decodes the access token without verifying its signature. It is
// for display only; the backend remains the authority.
func (c *Controller) Claims() (*jwt.RegisteredClaims, error) {
	token := c.store.Get().AccessToken
	if token == "" {
		return nil, ErrNotAuthenticated
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to decode access token: %w", err)
	}
	return claims, nil
}

// validateTokenResponse checks the fields every token response must carry.
func validateTokenResponse(accessToken, tokenType string) error {
	if accessToken == "" {
		return errors.New("access_token is empty")
	}

	// token_type is optional, but if present it must be Bearer.
	if tokenType != "" && tokenType != "Bearer" {
		return fmt.Errorf("unexpected token_type: %s (expected Bearer)", tokenType)
	}
	return nil
}

// Package blog is a typed client for the blog backend's content API. All
// calls go through the authenticated request pipeline.
package blog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/lumen-blog/blogctl/pipeline"
)

// ErrNotFound is matched by an APIError with status 404.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx answer from a content endpoint.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Sender is the part of the pipeline the client needs.
type Sender interface {
	Send(ctx context.Context, req pipeline.Request) (*pipeline.Response, error)
}

// Client wraps the content endpoints.
type Client struct {
	sender Sender
	logger *zap.Logger
}

func NewClient(sender Sender, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{sender: sender, logger: logger}
}

// ArticleIndex lists every article grouped by category.
func (c *Client) ArticleIndex(ctx context.Context) (ArticleIndex, error) {
	var idx ArticleIndex
	if err := c.do(ctx, http.MethodGet, "/articles/index", nil, &idx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (c *Client) Article(ctx context.Context, category, slug string) (*Article, error) {
	var a Article
	path := "/article/" + url.PathEscape(category) + "/" + url.PathEscape(slug)
	if err := c.do(ctx, http.MethodGet, path, nil, &a); err != nil {
		return nil, err
	}
	if a.Category == "" {
		a.Category = category
	}
	return &a, nil
}

// SaveArticle creates or updates an article and returns its id.
func (c *Client) SaveArticle(ctx context.Context, draft ArticleDraft) (string, error) {
	if draft.Slug == "" || draft.Category == "" {
		return "", errors.New("article slug and category are required")
	}
	var out saveArticleResponse
	if err := c.do(ctx, http.MethodPost, "/articles", draft, &out); err != nil {
		return "", err
	}
	c.logger.Info("blog.article_saved",
		zap.String("id", out.ID),
		zap.Bool("new", draft.IsNew))
	if out.ID == "" {
		return draft.Slug, nil
	}
	return out.ID, nil
}

func (c *Client) DeleteArticle(ctx context.Context, slug string) error {
	return c.do(ctx, http.MethodDelete, "/articles/"+url.PathEscape(slug), nil, nil)
}

func (c *Client) Friends(ctx context.Context) ([]Friend, error) {
	var out friendsResponse
	if err := c.do(ctx, http.MethodGet, "/friends", nil, &out); err != nil {
		return nil, err
	}
	return out.Friends, nil
}

func (c *Client) AddFriend(ctx context.Context, f Friend) (*Friend, error) {
	var out friendResponse
	if err := c.do(ctx, http.MethodPost, "/friends", f, &out); err != nil {
		return nil, err
	}
	return &out.Friend, nil
}

func (c *Client) UpdateFriend(ctx context.Context, id string, f Friend) (*Friend, error) {
	var out friendResponse
	if err := c.do(ctx, http.MethodPut, "/friends/"+url.PathEscape(id), f, &out); err != nil {
		return nil, err
	}
	return &out.Friend, nil
}

func (c *Client) DeleteFriend(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/friends/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Artworks(ctx context.Context) ([]Artwork, error) {
	var out artworksResponse
	if err := c.do(ctx, http.MethodGet, "/artworks", nil, &out); err != nil {
		return nil, err
	}
	return out.Artworks, nil
}

func (c *Client) Artwork(ctx context.Context, id string) (*Artwork, error) {
	var out artworkResponse
	if err := c.do(ctx, http.MethodGet, "/artworks/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out.Artwork, nil
}

func (c *Client) AddArtwork(ctx context.Context, a Artwork) (*Artwork, error) {
	var out artworkResponse
	if err := c.do(ctx, http.MethodPost, "/artworks", a, &out); err != nil {
		return nil, err
	}
	return &out.Artwork, nil
}

func (c *Client) UpdateArtwork(ctx context.Context, id string, a Artwork) (*Artwork, error) {
	var out artworkResponse
	if err := c.do(ctx, http.MethodPut, "/artworks/"+url.PathEscape(id), a, &out); err != nil {
		return nil, err
	}
	return &out.Artwork, nil
}

func (c *Client) DeleteArtwork(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/artworks/"+url.PathEscape(id), nil, nil)
}

// do sends one request and decodes a 2xx body into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.sender.Send(ctx, pipeline.NewRequest(method, path, body))
	if err != nil {
		return err
	}
	if !resp.OK() {
		apiErr := &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.Body),
		}
		c.logger.Warn("blog.non_2xx",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("message", apiErr.Message))
		return apiErr
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	return resp.Decode(out)
}

func errorMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return ""
	}
	switch {
	case eb.Error != "":
		return eb.Error
	case eb.Msg != "":
		return eb.Msg
	default:
		return eb.Message
	}
}

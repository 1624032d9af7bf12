// Package api is the HTTP client for the list service's mutation and fetch
// endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Cameron64/HoneyDo-sub002/internal/model"
)

// MutationIDHeader carries a client-generated id the server can use to
// recognize a replayed request.
const MutationIDHeader = "X-Mutation-ID"

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks JSON to the list service.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type mutationIDKey struct{}

// WithMutationID makes requests issued with ctx carry id instead of a fresh one.
func WithMutationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, mutationIDKey{}, id)
}

func mutationID(ctx context.Context) string {
	if id, ok := ctx.Value(mutationIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set(MutationIDHeader, mutationID(ctx))
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s %s: %w: %v", method, path, ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		return fmt.Errorf("%s %s: %w", method, path, &Error{Status: resp.StatusCode, Message: e.Error})
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func itemPath(itemID string) string {
	return "/api/items/" + url.PathEscape(itemID)
}

func listPath(listID string) string {
	return "/api/lists/" + url.PathEscape(listID)
}

func (c *Client) Lists(ctx context.Context) ([]model.ListMeta, error) {
	var lists []model.ListMeta
	if err := c.do(ctx, http.MethodGet, "/api/lists", nil, &lists); err != nil {
		return nil, err
	}
	return lists, nil
}

// GetList fetches the authoritative list with its items.
func (c *Client) GetList(ctx context.Context, listID string) (model.List, error) {
	var l model.List
	if err := c.do(ctx, http.MethodGet, listPath(listID), nil, &l); err != nil {
		return model.List{}, err
	}
	return l, nil
}

func (c *Client) AddItem(ctx context.Context, listID string, in model.ItemInput) (model.Item, error) {
	var it model.Item
	err := c.do(ctx, http.MethodPost, listPath(listID)+"/items", in, &it)
	return it, err
}

func (c *Client) UpdateItem(ctx context.Context, itemID string, p model.ItemPatch) (model.Item, error) {
	var it model.Item
	err := c.do(ctx, http.MethodPatch, itemPath(itemID), p, &it)
	return it, err
}

func (c *Client) RemoveItem(ctx context.Context, itemID string) error {
	return c.do(ctx, http.MethodDelete, itemPath(itemID), nil, nil)
}

type checkRequest struct {
	ItemIDs []string `json:"itemIds,omitempty"`
	Checked bool     `json:"checked"`
}

func (c *Client) CheckItem(ctx context.Context, itemID string, checked bool) (model.Item, error) {
	var it model.Item
	err := c.do(ctx, http.MethodPost, itemPath(itemID)+"/check", checkRequest{Checked: checked}, &it)
	return it, err
}

func (c *Client) CheckItems(ctx context.Context, itemIDs []string, checked bool) ([]model.Item, error) {
	var items []model.Item
	err := c.do(ctx, http.MethodPost, "/api/items/check", checkRequest{ItemIDs: itemIDs, Checked: checked}, &items)
	return items, err
}

func (c *Client) ReorderItems(ctx context.Context, listID string, orderedIDs []string) error {
	body := struct {
		ItemIDs []string `json:"itemIds"`
	}{orderedIDs}
	return c.do(ctx, http.MethodPut, listPath(listID)+"/order", body, nil)
}

// ClearChecked removes every checked item from the list and returns the
// removed ids.
func (c *Client) ClearChecked(ctx context.Context, listID string) ([]string, error) {
	var out struct {
		ItemIDs []string `json:"itemIds"`
	}
	if err := c.do(ctx, http.MethodPost, listPath(listID)+"/clear-checked", nil, &out); err != nil {
		return nil, err
	}
	return out.ItemIDs, nil
}

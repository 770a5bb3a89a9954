// Package crm es el cliente HTTP fino contra la API remota. El armado de
// requests se mantiene deliberadamente chico: la resiliencia (retries,
// breaker, presupuesto) vive en las capas de arriba, acá solo se traduce
// HTTP a tipos de dominio y errores clasificables.
package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dropDatabas3/crmbridge/internal/domain/repository"
	"github.com/dropDatabas3/crmbridge/internal/faults"
)

// Config del cliente.
type Config struct {
	BaseURL string
	// Token bearer. Vacío = requests sin auth (tests, sandboxes).
	Token string
	// Timeout del http.Client. Default 30s.
	Timeout time.Duration
}

// Client implementa repository.CRMClient sobre la API REST del proveedor.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// New crea un Client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:  strings.TrimRight(cfg.BaseURL, "/"),
		token: cfg.Token,
		http:  &http.Client{Timeout: timeout},
	}
}

// wireRecord es el shape del proveedor; se traduce a repository.Record.
type wireRecord struct {
	ID        string         `json:"id"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty"`
	Fields    map[string]any `json:"fields"`
}

type wirePage struct {
	Records    []wireRecord `json:"records"`
	NextCursor string       `json:"next_cursor"`
}

// FetchPage trae una página paginada por cursor.
func (c *Client) FetchPage(ctx context.Context, in repository.FetchPageInput) (repository.Page, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(in.PageSize))
	if in.Cursor != "" {
		q.Set("cursor", in.Cursor)
	}
	if in.Sort == repository.SortOldestFirst {
		q.Set("sort", "updated_at.asc")
	} else {
		q.Set("sort", "updated_at.desc")
	}

	body, meta, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/v1/%s?%s", url.PathEscape(in.EntityType), q.Encode()))
	if err != nil {
		return repository.Page{}, err
	}

	var wp wirePage
	if err := json.Unmarshal(body, &wp); err != nil {
		return repository.Page{}, fmt.Errorf("crm: decode page: %w", err)
	}

	page := repository.Page{NextCursor: wp.NextCursor, Meta: meta}
	page.Records = make([]repository.Record, 0, len(wp.Records))
	for _, wr := range wp.Records {
		page.Records = append(page.Records, repository.Record{
			RemoteID:   wr.ID,
			EntityType: in.EntityType,
			UpdatedAt:  wr.UpdatedAt,
			DeletedAt:  wr.DeletedAt,
			Fields:     wr.Fields,
		})
	}
	return page, nil
}

// FetchRecord trae un record individual.
func (c *Client) FetchRecord(ctx context.Context, entityType, remoteID string) (repository.Record, error) {
	body, _, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/v1/%s/%s", url.PathEscape(entityType), url.PathEscape(remoteID)))
	if err != nil {
		var he *faults.HTTPError
		if errors.As(err, &he) && he.Status == http.StatusNotFound {
			return repository.Record{}, repository.ErrNotFound
		}
		return repository.Record{}, err
	}

	var wr wireRecord
	if err := json.Unmarshal(body, &wr); err != nil {
		return repository.Record{}, fmt.Errorf("crm: decode record: %w", err)
	}
	return repository.Record{
		RemoteID:   wr.ID,
		EntityType: entityType,
		UpdatedAt:  wr.UpdatedAt,
		DeletedAt:  wr.DeletedAt,
		Fields:     wr.Fields,
	}, nil
}

// Ping mide latencia con el endpoint más barato del proveedor.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	_, _, err := c.do(ctx, http.MethodGet, "/v1/ping")
	return time.Since(start), err
}

func (c *Client) do(ctx context.Context, method, path string) ([]byte, repository.HTTPMeta, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return nil, repository.HTTPMeta{}, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, repository.HTTPMeta{}, err
	}
	defer resp.Body.Close()

	meta := parseMeta(resp)
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, meta, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, meta, &faults.HTTPError{
			Status:     resp.StatusCode,
			RetryAfter: meta.RetryAfter,
			Msg:        msg,
		}
	}
	return body, meta, nil
}

// parseMeta levanta los headers de rate limit del proveedor.
func parseMeta(resp *http.Response) repository.HTTPMeta {
	meta := repository.HTTPMeta{
		Status:             resp.StatusCode,
		RateLimitLimit:     -1,
		RateLimitRemaining: -1,
	}
	if v := resp.Header.Get("X-RateLimit-Limit"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			meta.RateLimitLimit = n
		}
	}
	if v := resp.Header.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			meta.RateLimitRemaining = n
		}
	}
	if v := resp.Header.Get("X-RateLimit-Reset"); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			meta.RateLimitReset = time.Unix(unix, 0).UTC()
		}
	}
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			meta.RetryAfter = time.Duration(secs) * time.Second
		} else if t, err := http.ParseTime(v); err == nil {
			meta.RetryAfter = time.Until(t)
		}
	}
	return meta
}

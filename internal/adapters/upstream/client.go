// Package upstream es el cliente HTTP de los endpoints request/response del
// feed: snapshot y detalle de transacción.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/mevdash/internal/codec"
	"github.com/alejandrodnm/mevdash/internal/domain"
	"github.com/alejandrodnm/mevdash/internal/ports"
)

const (
	defaultBase = "http://localhost:8080"

	snapshotPath = "/v1/dashboard/snapshot"
	detailPath   = "/v1/dashboard/tx/"

	// El snapshot es caro en el servidor; el synchronizer ya lo espacia,
	// esto es el techo duro. El detalle llega a ráfagas desde la UI.
	snapshotRatePerSec = 2
	detailRatePerSec   = 20

	maxRetries    = 3
	baseRetryWait = 250 * time.Millisecond
	maxBodyBytes  = 32 << 20
)

// ErrNotFound indica que el upstream no conoce la transacción pedida.
var ErrNotFound = errors.New("upstream: not found")

// Client es el HTTP client del upstream con rate limiting y retries.
type Client struct {
	http            *http.Client
	base            string
	snapshotLimiter *rate.Limiter
	detailLimiter   *rate.Limiter
	now             func() time.Time
}

var (
	_ ports.SnapshotProvider = (*Client)(nil)
	_ ports.DetailProvider   = (*Client)(nil)
)

// NewClient crea un Client contra base. Si base está vacío usa localhost.
func NewClient(base string, timeout time.Duration) *Client {
	if base == "" {
		base = defaultBase
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:            &http.Client{Timeout: timeout},
		base:            strings.TrimRight(base, "/"),
		snapshotLimiter: rate.NewLimiter(snapshotRatePerSec, 2),
		detailLimiter:   rate.NewLimiter(detailRatePerSec, 10),
		now:             time.Now,
	}
}

// FetchSnapshot pide el snapshot con los límites de filas dados.
func (c *Client) FetchSnapshot(ctx context.Context, limits ports.SnapshotLimits) (domain.Snapshot, error) {
	q := url.Values{}
	if limits.TxLimit > 0 {
		q.Set("tx_limit", strconv.Itoa(limits.TxLimit))
	}
	if limits.OpportunityLimit > 0 {
		q.Set("opportunity_limit", strconv.Itoa(limits.OpportunityLimit))
	}
	if limits.FeatureLimit > 0 {
		q.Set("feature_limit", strconv.Itoa(limits.FeatureLimit))
	}
	target := c.base + snapshotPath
	if enc := q.Encode(); enc != "" {
		target += "?" + enc
	}

	body, err := c.get(ctx, c.snapshotLimiter, target)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("upstream.FetchSnapshot: %w", err)
	}
	snap, err := codec.DecodeSnapshot(body)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("upstream.FetchSnapshot: %w", err)
	}
	return snap, nil
}

// FetchDetail pide el detalle de una transacción.
func (c *Client) FetchDetail(ctx context.Context, hash string) (domain.TxDetail, error) {
	norm, ok := codec.NormalizeHash(hash)
	if !ok {
		return domain.TxDetail{}, fmt.Errorf("upstream.FetchDetail: %w", codec.ErrInvalidTx)
	}
	body, err := c.get(ctx, c.detailLimiter, c.base+detailPath+url.PathEscape(norm))
	if err != nil {
		return domain.TxDetail{}, fmt.Errorf("upstream.FetchDetail %s: %w", domain.ShortHash(norm), err)
	}
	detail, err := codec.DecodeDetail(body, c.now())
	if err != nil {
		return domain.TxDetail{}, fmt.Errorf("upstream.FetchDetail %s: %w", domain.ShortHash(norm), err)
	}
	return detail, nil
}

// get hace un GET con rate limiting y retries y devuelve el cuerpo.
func (c *Client) get(ctx context.Context, limiter *rate.Limiter, target string) ([]byte, error) {
	return c.doWithRetry(ctx, limiter, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	})
}

// doWithRetry ejecuta la función con backoff exponencial.
// 404 → ErrNotFound sin reintentar; 429 y 5xx se reintentan.
func (c *Client) doWithRetry(ctx context.Context, limiter *rate.Limiter, fn func() (*http.Response, error)) ([]byte, error) {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if ctx.Err() != nil || attempt == maxRetries {
				return nil, fmt.Errorf("request failed after %d attempts: %w", attempt+1, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return nil, ErrNotFound

		case resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			slog.Warn("rate limited by upstream", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue

		case resp.StatusCode >= 500:
			resp.Body.Close()
			if attempt == maxRetries {
				return nil, fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue

		case resp.StatusCode >= 400:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, fmt.Errorf("client error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return body, nil
	}
	return nil, fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

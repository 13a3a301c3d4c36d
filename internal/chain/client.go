package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/polyindexer/internal/metrics"
)

// LogSource is the subset of the JSON-RPC API the watcher needs.
type LogSource interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// ErrNoSubscriptions is returned when live watching is requested without a
// WebSocket endpoint.
var ErrNoSubscriptions = errors.New("chain: no websocket endpoint for subscriptions")

// ClientConfig holds the RPC endpoints and the scan throttle.
type ClientConfig struct {
	WsURL     string
	HTTPURL   string
	RateLimit float64
	Burst     int
}

// Client is a LogSource over go-ethereum's ethclient. Subscriptions use the
// WebSocket endpoint; range scans and head queries prefer the HTTP endpoint
// and are throttled.
type Client struct {
	ws      *ethclient.Client
	http    *ethclient.Client
	limiter *rate.Limiter
}

// Dial connects to whichever endpoints are configured.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.WsURL == "" && cfg.HTTPURL == "" {
		return nil, errors.New("chain: no rpc endpoint configured")
	}
	c := &Client{}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	if cfg.WsURL != "" {
		ws, err := ethclient.DialContext(ctx, cfg.WsURL)
		if err != nil {
			return nil, fmt.Errorf("chain: dial ws: %w", err)
		}
		c.ws = ws
	}
	if cfg.HTTPURL != "" {
		h, err := ethclient.DialContext(ctx, cfg.HTTPURL)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("chain: dial http: %w", err)
		}
		c.http = h
	}
	return c, nil
}

func (c *Client) scanClient() *ethclient.Client {
	if c.http != nil {
		return c.http
	}
	return c.ws
}

// wait blocks until the throttle admits one call or ctx is done.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// SubscribeFilterLogs opens a log subscription on the WebSocket endpoint.
func (c *Client) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	if c.ws == nil {
		return nil, ErrNoSubscriptions
	}
	sub, err := c.ws.SubscribeFilterLogs(ctx, q, ch)
	recordRPC("eth_subscribe", err)
	return sub, err
}

// FilterLogs runs eth_getLogs.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	logs, err := c.scanClient().FilterLogs(ctx, q)
	recordRPC("eth_getLogs", err)
	return logs, err
}

// BlockNumber returns the chain head.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	n, err := c.scanClient().BlockNumber(ctx)
	recordRPC("eth_blockNumber", err)
	return n, err
}

// Close closes both connections.
func (c *Client) Close() {
	if c.ws != nil {
		c.ws.Close()
	}
	if c.http != nil {
		c.http.Close()
	}
}

func recordRPC(method string, err error) {
	metrics.RPCCalls.WithLabelValues(method, classifyRPCError(err)).Inc()
}

func classifyRPCError(err error) string {
	if err == nil {
		return "ok"
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return "timeout"
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") || strings.Contains(lower, "too many requests"):
		return "rate_limited"
	case strings.Contains(lower, "block range") || strings.Contains(lower, "too many results") || strings.Contains(lower, "limit exceeded"):
		return "range_too_large"
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "broken pipe") || strings.Contains(lower, "eof"):
		return "network_error"
	default:
		return "error"
	}
}

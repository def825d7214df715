package valkey

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	valkeylib "github.com/valkey-io/valkey-go"
)

const (
	// DefaultKeyPrefix namespaces every key this process writes so several
	// deployments can share one Valkey.
	DefaultKeyPrefix = "zapdesk"

	// DefaultConnectTimeout bounds the startup ping.
	DefaultConnectTimeout = 5 * time.Second

	healthPingTimeout = 500 * time.Millisecond
)

// Config carries the connection settings, usually hydrated from the
// VALKEY_* environment variables.
type Config struct {
	Address        string
	Password       string
	DB             int
	KeyPrefix      string
	ConnectTimeout time.Duration
}

// Client wraps valkey-go with the key namespacing the dedupe registries and
// the websocket fan-out build on. Create via NewClient; the caller owns
// Close.
type Client struct {
	inner     valkeylib.Client
	keyPrefix string
}

// NewClient connects and verifies the server answers a ping before handing
// the client out. A refused or slow server fails fast here so the caller can
// fall back to in-memory state.
func NewClient(cfg Config) (*Client, error) {
	opts := valkeylib.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	inner, err := valkeylib.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := inner.Do(ctx, inner.B().Ping().Build()).Error(); err != nil {
		inner.Close()
		return nil, fmt.Errorf("failed to ping valkey at %s (timeout %v): %w", cfg.Address, timeout, err)
	}

	prefix := strings.TrimSuffix(cfg.KeyPrefix, ":")
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logrus.Infof("[VALKEY] Connected to %s (db %d, prefix %q)", cfg.Address, cfg.DB, prefix)
	return &Client{inner: inner, keyPrefix: prefix}, nil
}

// Inner exposes the raw valkey-go client for command building.
func (c *Client) Inner() valkeylib.Client {
	return c.inner
}

func (c *Client) Close() {
	if c.inner != nil {
		c.inner.Close()
	}
}

// Key joins the parts under the configured prefix.
// Example: Key("dedupe", "alloc") -> "zapdesk:dedupe:alloc".
func (c *Client) Key(parts ...string) string {
	if len(parts) == 0 {
		return c.keyPrefix
	}
	return c.keyPrefix + ":" + strings.Join(parts, ":")
}

// KeyPrefix returns the namespace without a trailing separator.
func (c *Client) KeyPrefix() string {
	return c.keyPrefix
}

// Ping round-trips the server under the caller's context.
func (c *Client) Ping(ctx context.Context) error {
	return c.inner.Do(ctx, c.inner.B().Ping().Build()).Error()
}

// IsConnected is the health-endpoint probe; it uses a short internal timeout
// so a dead server cannot stall the status report.
func (c *Client) IsConnected() bool {
	ctx, cancel := context.WithTimeout(context.Background(), healthPingTimeout)
	defer cancel()
	return c.Ping(ctx) == nil
}

// IsNil reports whether err is the Valkey NIL reply, i.e. a missing key
// rather than a transport failure.
func IsNil(err error) bool {
	return valkeylib.IsValkeyNil(err)
}

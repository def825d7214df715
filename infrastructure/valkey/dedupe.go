package valkey

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DedupeRegistry is the shared-state implementation of dedupe.Registry:
// multiple pipeline replicas converge on one delivery because the key lives
// in Valkey with a server-side TTL. Degrades open on connection problems;
// the store's unique indexes remain the hard guarantee.
type DedupeRegistry struct {
	client *Client
	scope  string
}

// NewDedupeRegistry scopes keys under <prefix>dedupe:<scope>:.
func NewDedupeRegistry(client *Client, scope string) *DedupeRegistry {
	return &DedupeRegistry{client: client, scope: scope}
}

func (r *DedupeRegistry) key(k string) string {
	return r.client.Key("dedupe", r.scope, k)
}

func (r *DedupeRegistry) Seen(ctx context.Context, key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}

	inner := r.client.Inner()
	n, err := inner.Do(ctx, inner.B().Exists().Key(r.key(key)).Build()).AsInt64()
	if err != nil {
		if !IsNil(err) {
			logrus.Warnf("[VALKEY] dedupe lookup failed for scope %s: %v", r.scope, err)
		}
		return false
	}
	return n > 0
}

func (r *DedupeRegistry) Register(ctx context.Context, key string, ttl time.Duration) {
	key = strings.TrimSpace(key)
	if key == "" || ttl <= 0 {
		return
	}

	inner := r.client.Inner()
	err := inner.Do(ctx, inner.B().Set().Key(r.key(key)).Value("1").Px(ttl).Build()).Error()
	if err != nil {
		logrus.Warnf("[VALKEY] dedupe register failed for scope %s: %v", r.scope, err)
	}
}

// Len counts the live keys in this scope. SCAN-based; admin surface only.
func (r *DedupeRegistry) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	inner := r.client.Inner()
	pattern := r.client.Key("dedupe", r.scope, "*")
	var cursor uint64
	total := 0
	for {
		entry, err := inner.Do(ctx, inner.B().Scan().Cursor(cursor).Match(pattern).Count(200).Build()).AsScanEntry()
		if err != nil {
			logrus.Warnf("[VALKEY] dedupe scan failed for scope %s: %v", r.scope, err)
			return total
		}
		total += len(entry.Elements)
		cursor = entry.Cursor
		if cursor == 0 {
			return total
		}
	}
}

// Flush deletes every key in this scope and returns how many were dropped.
func (r *DedupeRegistry) Flush() int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	inner := r.client.Inner()
	pattern := r.client.Key("dedupe", r.scope, "*")
	var cursor uint64
	total := 0
	for {
		entry, err := inner.Do(ctx, inner.B().Scan().Cursor(cursor).Match(pattern).Count(200).Build()).AsScanEntry()
		if err != nil {
			logrus.Warnf("[VALKEY] dedupe flush scan failed for scope %s: %v", r.scope, err)
			return total
		}
		if len(entry.Elements) > 0 {
			if err := inner.Do(ctx, inner.B().Del().Key(entry.Elements...).Build()).Error(); err != nil {
				logrus.Warnf("[VALKEY] dedupe flush delete failed for scope %s: %v", r.scope, err)
				return total
			}
			total += len(entry.Elements)
		}
		cursor = entry.Cursor
		if cursor == 0 {
			return total
		}
	}
}

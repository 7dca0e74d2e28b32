// Package cache keeps the newest report per type in Redis and relays
// stored-report notifications between processes over Redis pub/sub.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/splax/lbinsight/pkg/logger"
)

const (
	keyPrefix      = "lbinsight:report:latest:"
	channelPrefix  = "lbinsight:reports:"
	pingTimeout    = 2 * time.Second
	defaultTimeout = 500 * time.Millisecond
)

// ErrMiss indicates the cache holds no entry for a key.
var ErrMiss = errors.New("cache: miss")

// ReportCache is a Redis backed cache for serialized reports.
type ReportCache struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

// NewReportCache connects to Redis and verifies the connection.
func NewReportCache(addr, password string, db int, ttl time.Duration, log *slog.Logger) (*ReportCache, error) {
	if log == nil {
		log = logger.Discard()
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &ReportCache{
		client:  client,
		ttl:     ttl,
		timeout: defaultTimeout,
		logger:  log.With("component", "report_cache"),
	}, nil
}

// LatestKey is the key holding the newest report of reportType.
func LatestKey(reportType string) string {
	return keyPrefix + reportType
}

// Channel is the pub/sub channel announcing reports of reportType.
func Channel(reportType string) string {
	return channelPrefix + reportType
}

// ReportTypeFromChannel extracts the report type from a channel name.
func ReportTypeFromChannel(channel string) (string, bool) {
	reportType, ok := strings.CutPrefix(channel, channelPrefix)
	return reportType, ok && reportType != ""
}

// StoreLatest caches payload as the newest report of reportType.
func (c *ReportCache) StoreLatest(ctx context.Context, reportType string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.client.Set(ctx, LatestKey(reportType), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache latest %s: %w", reportType, err)
	}
	return nil
}

// Latest returns the cached newest report of reportType or ErrMiss.
func (c *ReportCache) Latest(ctx context.Context, reportType string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	payload, err := c.client.Get(ctx, LatestKey(reportType)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("cache read %s: %w", reportType, err)
	}
	return payload, nil
}

// Publish announces a stored report to every listening process.
func (c *ReportCache) Publish(ctx context.Context, reportType string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.client.Publish(ctx, Channel(reportType), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", reportType, err)
	}
	return nil
}

// Listen delivers announcements for every report type to fn until ctx is done.
func (c *ReportCache) Listen(ctx context.Context, fn func(reportType string, payload []byte)) error {
	sub := c.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.logger.Info("listening for report announcements")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			reportType, valid := ReportTypeFromChannel(msg.Channel)
			if !valid {
				c.logger.Warn("ignoring announcement on unexpected channel", "channel", msg.Channel)
				continue
			}
			fn(reportType, []byte(msg.Payload))
		}
	}
}

// Close releases the Redis connection.
func (c *ReportCache) Close() {
	if c.client != nil {
		_ = c.client.Close()
	}
}

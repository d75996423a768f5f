package tasks

import (
	"math"
	"math/bits"
	"strings"
	"time"

	"post-mirror/domain/model"
	"post-mirror/infrastructure/configuration"
)

// Task names. Per-platform queues append the platform id.
const (
	TaskParsePost          = "parsePost"
	TaskAutofetchAllUsers  = "autofetchAllUsers"
	TaskSyncAllPostMetrics = "syncAllPostMetrics"

	fetchUserPostsPrefix  = "fetchUserPosts-"
	syncPostMetricsPrefix = "syncPostMetrics-"
)

func FetchUserPostsTask(platform model.PlatformID) string {
	return fetchUserPostsPrefix + string(platform)
}

func SyncPostMetricsTask(platform model.PlatformID) string {
	return syncPostMetricsPrefix + string(platform)
}

// RetryPolicy governs re-execution of a failed task. MaxDoublings of zero
// means a fixed MinBackoff between attempts.
type RetryPolicy struct {
	MaxAttempts  int
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	MaxDoublings int
}

// Backoff is the wait before attempt+1, attempt counting from 1.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	doublings := attempt - 1
	if doublings > p.MaxDoublings {
		doublings = p.MaxDoublings
	}
	d := time.Duration(float64(p.MinBackoff) * math.Pow(2, float64(doublings)))
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// CanRetry reports whether a task that failed on attempt may run again.
func (p RetryPolicy) CanRetry(attempt int) bool {
	return attempt < p.MaxAttempts
}

// RateLimit is the dispatch budget of one queue.
type RateLimit struct {
	MaxDispatchesPerSecond  float64
	MaxConcurrentDispatches int
}

type Options struct {
	Retry   RetryPolicy
	Rate    RateLimit
	Timeout time.Duration
}

func perSecond(n float64, every time.Duration) float64 {
	return n / every.Seconds()
}

var defaultOptions = Options{
	Retry:   RetryPolicy{MaxAttempts: 3, MinBackoff: 10 * time.Second, MaxBackoff: 10 * time.Minute, MaxDoublings: 4},
	Rate:    RateLimit{MaxDispatchesPerSecond: 5, MaxConcurrentDispatches: 10},
	Timeout: 9 * time.Minute,
}

// DefaultOptions is the built-in queue table, including the per-platform
// fetch and metrics rates derived from each API quota.
func DefaultOptions() map[string]Options {
	rate := func(n float64, every time.Duration, concurrent int) RateLimit {
		return RateLimit{MaxDispatchesPerSecond: perSecond(n, every), MaxConcurrentDispatches: concurrent}
	}
	fetchRetry := RetryPolicy{MaxAttempts: 2, MinBackoff: time.Minute, MaxBackoff: 10 * time.Minute, MaxDoublings: 2}
	metricsRetry := RetryPolicy{MaxAttempts: 2, MinBackoff: 5 * time.Minute, MaxBackoff: 5 * time.Minute}

	out := map[string]Options{
		TaskParsePost: {
			Retry:   RetryPolicy{MaxAttempts: 3, MinBackoff: 30 * time.Second, MaxBackoff: 5 * time.Minute, MaxDoublings: 3},
			Rate:    RateLimit{MaxDispatchesPerSecond: 2, MaxConcurrentDispatches: 5},
			Timeout: 5 * time.Minute,
		},
		TaskAutofetchAllUsers: {
			Retry:   RetryPolicy{MaxAttempts: 1},
			Rate:    RateLimit{MaxDispatchesPerSecond: 1, MaxConcurrentDispatches: 1},
			Timeout: 9 * time.Minute,
		},
		TaskSyncAllPostMetrics: {
			Retry:   RetryPolicy{MaxAttempts: 1},
			Rate:    RateLimit{MaxDispatchesPerSecond: 1, MaxConcurrentDispatches: 1},
			Timeout: 9 * time.Minute,
		},
		FetchUserPostsTask(model.PlatformTwitter):   {Retry: fetchRetry, Rate: rate(1, 180*time.Second, 1), Timeout: 5 * time.Minute},
		FetchUserPostsTask(model.PlatformMastodon):  {Retry: fetchRetry, Rate: rate(1, 4*time.Second, 5), Timeout: 5 * time.Minute},
		FetchUserPostsTask(model.PlatformBluesky):   {Retry: fetchRetry, Rate: rate(10, 3*time.Second, 10), Timeout: 5 * time.Minute},
		SyncPostMetricsTask(model.PlatformTwitter):  {Retry: metricsRetry, Rate: rate(1, 120*time.Second, 1), Timeout: 2 * time.Minute},
		SyncPostMetricsTask(model.PlatformMastodon): {Retry: metricsRetry, Rate: rate(1, 8*time.Second, 5), Timeout: 2 * time.Minute},
		SyncPostMetricsTask(model.PlatformBluesky):  {Retry: metricsRetry, Rate: rate(10, 6*time.Second, 10), Timeout: 2 * time.Minute},
	}
	return out
}

// OptionsFromConfig overlays the configured queues on DefaultOptions. Zero
// fields in the config keep the default.
func OptionsFromConfig(cfg configuration.Tasks) map[string]Options {
	out := DefaultOptions()
	for name, q := range cfg.Queues {
		key := name
		for known := range out {
			if strings.EqualFold(known, name) {
				key = known
				break
			}
		}
		o, ok := out[key]
		if !ok {
			o = defaultOptions
		}
		if q.MaxDispatchesPerSecond > 0 {
			o.Rate.MaxDispatchesPerSecond = q.MaxDispatchesPerSecond
		}
		if q.MaxConcurrentDispatches > 0 {
			o.Rate.MaxConcurrentDispatches = q.MaxConcurrentDispatches
		}
		if q.MaxAttempts > 0 {
			o.Retry.MaxAttempts = q.MaxAttempts
		}
		if q.MinBackoffSeconds > 0 {
			o.Retry.MinBackoff = time.Duration(q.MinBackoffSeconds) * time.Second
		}
		if q.MaxBackoffSeconds > 0 {
			o.Retry.MaxBackoff = time.Duration(q.MaxBackoffSeconds) * time.Second
		}
		if q.MaxDoublings > 0 {
			o.Retry.MaxDoublings = q.MaxDoublings
		}
		if q.TimeoutSeconds > 0 {
			o.Timeout = time.Duration(q.TimeoutSeconds) * time.Second
		}
		out[key] = o
	}
	return out
}

// NextMetricsSyncDelay is base*2^syncNumber, and false once that exceeds ceiling.
func NextMetricsSyncDelay(syncNumber int, base, ceiling time.Duration) (time.Duration, bool) {
	if syncNumber < 0 || base <= 0 || ceiling < base {
		return 0, false
	}
	// 2^syncNumber <= ceiling/base, checked before multiplying
	if syncNumber >= bits.Len64(uint64(ceiling/base)) {
		return 0, false
	}
	return base << uint(syncNumber), true
}

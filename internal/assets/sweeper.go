package assets

import (
	"context"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const sweepLockKey = "tuvi:sweep:lock"

// Sweeper removes expired artifacts on a cron schedule. Extra jobs (session
// expiry) run on the same tick.
type Sweeper struct {
	Dir    *Dir
	MaxAge time.Duration
	Cron   string
	Every  time.Duration
	Rdb    *redis.Client
	Logger *zap.Logger
	Jobs   []func(now time.Time)

	Stop chan struct{}

	mu   sync.Mutex
	last *time.Time
	now  func() time.Time
}

// Start runs one sweep immediately and then checks the schedule every Every.
func (s *Sweeper) Start() {
	if s.Stop == nil {
		s.Stop = make(chan struct{})
	}
	every := s.Every
	if every <= 0 {
		every = time.Minute
	}
	s.Tick(context.Background())
	ticker := time.NewTicker(every)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.Tick(context.Background())
			}
		}
	}()
}

// Tick sweeps when the schedule says it is due. It reports whether it ran.
func (s *Sweeper) Tick(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	for _, job := range s.Jobs {
		job(now)
	}
	if !isDue(s.Cron, s.last, now) {
		return false
	}

	// several replicas may share the assets volume
	if s.Rdb != nil {
		ok, err := s.Rdb.SetNX(ctx, sweepLockKey, "1", 2*time.Minute).Result()
		if err != nil {
			s.logger().Warn("sweep lock unavailable", zap.Error(err))
		} else if !ok {
			return false
		} else {
			defer s.Rdb.Del(ctx, sweepLockKey)
		}
	}

	removed, err := s.Dir.Sweep(now, s.MaxAge)
	if err != nil {
		s.logger().Warn("sweep finished with errors", zap.Int("removed", removed), zap.Error(err))
	} else {
		s.logger().Info("sweep finished", zap.Int("removed", removed))
	}
	s.last = &now
	return true
}

func (s *Sweeper) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *Sweeper) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// isDue determines if a job with cronSpec should run now based on last run time.
// Supports "@daily", "@hourly", and standard cron expressions.
func isDue(cronSpec string, last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}
	switch cronSpec {
	case "@daily", "":
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			return now.Sub(*last) >= 24*time.Hour
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}

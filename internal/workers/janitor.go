package workers

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/honeynil/referral-credit-service/internal/infrastructure/observability"
	"github.com/honeynil/referral-credit-service/internal/repository"
	service "github.com/honeynil/referral-credit-service/internal/services"
)

const DefaultJanitorInterval = 10 * time.Minute

// Janitor purges used and expired reset tokens and, when pendingTTL is set,
// expires referrals that never converted.
type Janitor struct {
	repos      repository.Repositories
	clock      service.Clock
	interval   time.Duration
	pendingTTL time.Duration
	logger     *zerolog.Logger
}

func NewJanitor(repos repository.Repositories, clock service.Clock, interval, pendingTTL time.Duration, logger *zerolog.Logger) *Janitor {
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	return &Janitor{repos: repos, clock: clock, interval: interval, pendingTTL: pendingTTL, logger: logger}
}

func (j *Janitor) Start(ctx context.Context) {
	j.logger.Info().Dur("interval", j.interval).Msg("janitor started")

	j.RunOnce(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info().Msg("janitor stopped")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

type Report struct {
	TokensDeleted    int64
	ReferralsExpired int64
}

func (j *Janitor) RunOnce(ctx context.Context) Report {
	var report Report
	now := j.clock.Now()

	n, err := j.repos.ResetTokens.DeleteExpired(ctx, now)
	if err != nil {
		j.logger.Error().Err(err).Msg("failed to purge reset tokens")
	} else {
		report.TokensDeleted = n
		if n > 0 {
			observability.ResetTokens.WithLabelValues("purged").Add(float64(n))
			j.logger.Info().Int64("deleted", n).Msg("purged reset tokens")
		}
	}

	if j.pendingTTL > 0 {
		n, err := j.repos.Referrals.ExpirePendingBefore(ctx, now.Add(-j.pendingTTL))
		if err != nil {
			j.logger.Error().Err(err).Msg("failed to expire pending referrals")
		} else {
			report.ReferralsExpired = n
			if n > 0 {
				j.logger.Info().Int64("expired", n).Msg("expired pending referrals")
			}
		}
	}
	return report
}

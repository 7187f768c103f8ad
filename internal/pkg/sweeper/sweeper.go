// Package sweeper runs the periodic reconciliation passes: grace-period
// expiry and abandoned-checkout cleanup.
package sweeper

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/formlio/paygate/app/models"
	"github.com/formlio/paygate/internal/pkg/env"
	"github.com/formlio/paygate/internal/pkg/notify"
)

type Config struct {
	FreePlanCode  string
	GraceCron     string
	AbandonedCron string
}

func ConfigFromEnv() Config {
	return Config{
		FreePlanCode:  env.GetEnv("FREE_PLAN_CODE", "free"),
		GraceCron:     env.GetEnv("SWEEP_GRACE_CRON", "0 * * * *"),
		AbandonedCron: env.GetEnv("SWEEP_CHECKOUT_CRON", "*/15 * * * *"),
	}
}

type Sweeper struct {
	repo   Repository
	notify notify.Dispatcher
	cfg    Config
	cron   *cron.Cron
}

func New(repo Repository, dispatcher notify.Dispatcher, cfg Config) *Sweeper {
	return &Sweeper{repo: repo, notify: dispatcher, cfg: cfg}
}

// Start schedules both passes. The schedules are deployment configuration;
// the pass logic itself never assumes a cadence.
func (s *Sweeper) Start() error {
	s.cron = cron.New()

	if _, err := s.cron.AddFunc(s.cfg.GraceCron, func() {
		if err := s.RunGraceExpiryPass(time.Now()); err != nil {
			log.Errorf("[Sweeper] grace expiry pass failed: %v", err)
		}
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(s.cfg.AbandonedCron, func() {
		if err := s.RunAbandonedCheckoutPass(time.Now()); err != nil {
			log.Errorf("[Sweeper] abandoned checkout pass failed: %v", err)
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	log.Info("[Sweeper] started grace expiry and abandoned checkout passes")
	return nil
}

func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// RunGraceExpiryPass downgrades every user whose grace period has run out to
// the free plan. A missing free plan is a fatal misconfiguration: the pass
// aborts before touching anyone.
func (s *Sweeper) RunGraceExpiryPass(now time.Time) error {
	freePlan, err := s.repo.GetFreePlan(s.cfg.FreePlanCode)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Errorf("[Sweeper] free plan %q is not configured, aborting grace expiry pass", s.cfg.FreePlanCode)
		}
		return err
	}

	users, err := s.repo.ListExpiredGraceUsers(now)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		return nil
	}
	log.Infof("[Sweeper] downgrading %d users with expired grace periods", len(users))

	for i := range users {
		user := &users[i]
		if err := s.repo.DowngradeUser(user, freePlan.ID); err != nil {
			log.Errorf("[Sweeper] could not downgrade user %d: %v", user.ID, err)
			continue
		}
		if err := s.notify.SendNotification(user.ID, models.NotificationTypeDowngraded, map[string]interface{}{
			"plan_code": freePlan.Code,
		}); err != nil {
			log.Warnf("[Sweeper] downgrade notification for user %d failed: %v", user.ID, err)
		}
	}
	return nil
}

// RunAbandonedCheckoutPass abandons expired pending sessions that never saw a
// transaction. Sessions with a transaction are left alone: the payment may
// have succeeded with the webhook lost, and discarding a paid session would
// be wrong.
func (s *Sweeper) RunAbandonedCheckoutPass(now time.Time) error {
	sessions, err := s.repo.ListExpiredPendingSessions(now)
	if err != nil {
		return err
	}

	for i := range sessions {
		session := &sessions[i]
		paid, err := s.repo.HasTransactionForProcess(session.ProcessID)
		if err != nil {
			log.Errorf("[Sweeper] could not check transactions for process %d: %v", session.ProcessID, err)
			continue
		}
		if paid {
			continue
		}
		if err := s.repo.AbandonSession(session.ID, session.UserID); err != nil {
			log.Errorf("[Sweeper] could not abandon session %d: %v", session.ID, err)
		}
	}
	return nil
}

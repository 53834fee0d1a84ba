package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"smcbot/pkg/utils"
)

// Sweeper закрытие торгового дня
type Sweeper interface {
	SweepEOD(ctx context.Context, boundary time.Time) (SweepReport, error)
}

// Scheduler ежедневный запуск закрытия дня в EODTime (таймзона EODLocation)
type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	eod     utils.ClockTime
	loc     *time.Location
	timeout time.Duration
	log     *utils.Logger
}

// NewScheduler создаёт планировщик и регистрирует задачу закрытия дня
func NewScheduler(sweeper Sweeper, eod utils.ClockTime, loc *time.Location, timeout time.Duration, log *utils.Logger) (*Scheduler, error) {
	if log == nil {
		log = utils.L()
	}
	if loc == nil {
		loc = time.UTC
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	log = log.WithComponent("scheduler")

	s := &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLogger{log})),
		),
		sweeper: sweeper,
		eod:     eod,
		loc:     loc,
		timeout: timeout,
		log:     log,
	}
	if _, err := s.cron.AddFunc(eod.CronSpec(), s.runEOD); err != nil {
		return nil, fmt.Errorf("register eod task: %w", err)
	}
	return s, nil
}

// Start запускает планировщик
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Scheduler started",
		utils.String("eod", s.eod.String()),
		utils.String("location", s.loc.String()),
	)
}

// Stop останавливает планировщик и ждёт выполняющуюся задачу
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("Scheduler stop timed out")
	}
	s.log.Info("Scheduler stopped")
}

func (s *Scheduler) runEOD() {
	boundary := s.eod.LastBoundary(time.Now(), s.loc)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	report, err := s.sweeper.SweepEOD(ctx, boundary)
	if err != nil {
		s.log.Error("EOD sweep failed", utils.Time("boundary", boundary), utils.Err(err))
		return
	}
	if report.Duplicate {
		return
	}
	s.log.Info("EOD task done",
		utils.Int("closed", len(report.Closed)),
		utils.PNL(report.Realized),
		utils.Balance(report.Balance),
	)
}

// cronLogger адаптер cron.Logger поверх zap
type cronLogger struct {
	log *utils.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}

package presence

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
)

// cronLogger adapts hclog to the logger robfig/cron expects.
type cronLogger struct {
	logger hclog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

// Refresher periodically pushes the live room snapshot into the mirror.
type Refresher struct {
	runner *cron.Cron
}

// StartRefresh schedules Refresh on spec (standard cron or "@every 1m").
func (m *Mirror) StartRefresh(spec string, timeout time.Duration, snapshot func() map[string][]string) (*Refresher, error) {
	logger := cronLogger{logger: m.logger.Named("cron")}
	runner := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	_, err := runner.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := m.Refresh(ctx, snapshot()); err != nil {
			m.logger.Error("presence refresh failed", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	runner.Start()
	return &Refresher{runner: runner}, nil
}

// Stop waits for a running refresh to finish.
func (r *Refresher) Stop() {
	<-r.runner.Stop().Done()
}

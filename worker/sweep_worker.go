package worker

import (
	"context"
	"fmt"
	"time"

	"releasewatcher/config"
	"releasewatcher/engine"
	"releasewatcher/log"
	"releasewatcher/utils"
)

// SweepWorker runs the recurring catalog-wide reconciliation pass. It shares
// the engine's reconcile path with on-demand subscription calls; per-identity
// serialization happens there.
type SweepWorker struct {
	conf          *config.Config
	engine        *engine.Engine
	sweepInterval time.Duration
}

func InitializeSweepWorker(conf *config.Config, eng *engine.Engine) *SweepWorker {
	hours := conf.SweepIntervalHours
	if hours <= 0 {
		hours = 24
	}
	sw := SweepWorker{
		conf:          conf,
		engine:        eng,
		sweepInterval: time.Duration(hours) * time.Hour,
	}
	return &sw
}

func (sw *SweepWorker) Run() {
	for {
		sw.runOnce()
		time.Sleep(sw.sweepInterval)
	}
}

func (sw *SweepWorker) runOnce() {
	summary, err := sw.engine.SweepAll(context.Background())
	if err != nil {
		log.LogAppErr("Couldn't list repositories for sweep", err)
		utils.PostSlackError(sw.conf, fmt.Sprintf("Sweep aborted: %v", err))
		return
	}

	log.LogAppInfow("sweep finished",
		"swept", summary.Swept,
		"advanced", summary.Advanced,
		"failed", summary.Failed,
	)
	if summary.Advanced > 0 {
		utils.PostSlackUpdate(sw.conf, fmt.Sprintf(
			"Update: %d repositories advanced to a new release this sweep.", summary.Advanced))
	}
	if summary.Failed > 0 {
		utils.PostSlackError(sw.conf, fmt.Sprintf(
			"Sweep finished with %d repositories failing to reconcile.", summary.Failed))
	}
}

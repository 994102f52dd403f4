package seats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"seatlock/pkg/logger"
)

const sweepLeaseName = "seat-lock-sweeper"

// JobProcessor runs the background expiry sweep. Reads already expire lapsed
// locks lazily; the sweep makes sure concerts nobody is reading still release
// their seats and broadcast UNLOCKED.
type JobProcessor struct {
	service  Service
	lease    Lease
	config   *JobConfig
	done     chan struct{}
	stopOnce sync.Once
}

// JobConfig contains configuration for background jobs
type JobConfig struct {
	SweepInterval time.Duration
	InstanceID    string
}

// DefaultJobConfig returns default job configuration
func DefaultJobConfig() *JobConfig {
	return &JobConfig{
		SweepInterval: 5 * time.Second,
		InstanceID:    "local",
	}
}

func NewJobProcessor(service Service, lease Lease, config *JobConfig) *JobProcessor {
	if config == nil {
		config = DefaultJobConfig()
	}
	if lease == nil {
		lease = NewLocalLease()
	}
	return &JobProcessor{
		service: service,
		lease:   lease,
		config:  config,
		done:    make(chan struct{}),
	}
}

// Start starts the sweep loop in its own goroutine
func (jp *JobProcessor) Start(ctx context.Context) {
	logger.GetDefault().Info("Starting seat lock sweeper",
		slog.Duration("interval", jp.config.SweepInterval),
		slog.String("instance_id", jp.config.InstanceID),
	)
	go jp.run(ctx)
}

// Stop stops the sweep loop; it is safe to call more than once
func (jp *JobProcessor) Stop() {
	jp.stopOnce.Do(func() {
		close(jp.done)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := jp.lease.Release(ctx, sweepLeaseName, jp.config.InstanceID); err != nil {
			logger.GetDefault().Warn("Failed to release sweeper lease", slog.Any("error", err))
		}
		logger.GetDefault().Info("Seat lock sweeper stopped")
	})
}

func (jp *JobProcessor) run(ctx context.Context) {
	ticker := time.NewTicker(jp.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			jp.RunOnce(ctx)
		case <-jp.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs one sweep if this instance wins the lease and returns the number of seats released
func (jp *JobProcessor) RunOnce(ctx context.Context) int {
	acquired, err := jp.lease.TryAcquire(ctx, sweepLeaseName, jp.config.InstanceID, jp.config.SweepInterval)
	if err != nil {
		logger.GetDefault().Warn("Seat lock sweeper lease failed", slog.Any("error", err))
		return 0
	}
	if !acquired {
		return 0
	}

	released, err := jp.service.SweepExpired(ctx)
	if err != nil {
		logger.GetDefault().Error("Error sweeping expired seat locks", slog.Any("error", err))
	}
	if released > 0 {
		logger.GetDefault().Info("Released expired seat locks", slog.Int("seats", released))
	}
	return released
}

// GetJobStatus returns the status of background jobs
func (jp *JobProcessor) GetJobStatus() map[string]interface{} {
	status := "running"
	select {
	case <-jp.done:
		status = "stopped"
	default:
	}
	return map[string]interface{}{
		"sweep_interval": jp.config.SweepInterval.String(),
		"instance_id":    jp.config.InstanceID,
		"status":         status,
	}
}

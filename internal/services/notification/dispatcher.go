package notification

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/smartfarm/internal/clock"
	"github.com/LeonardoBeccarini/smartfarm/internal/logger"
	"github.com/LeonardoBeccarini/smartfarm/internal/metrics"
	"github.com/LeonardoBeccarini/smartfarm/internal/model/messages"
)

type Config struct {
	SlotPath     string
	Grace        time.Duration // how long to wait for the poller before overwriting
	PollInterval time.Duration
	Pacing       time.Duration // pause after a write before the next job
}

// Dispatcher hands jobs to an external poller through a single slot file.
// Writes are serialized: a job is only written once the previous one was consumed,
// or the grace period expired.
type Dispatcher struct {
	cfg     Config
	log     *logger.Logger
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(cfg Config, log *logger.Logger, m *metrics.Metrics) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &Dispatcher{cfg: cfg, log: log.Named("notification"), metrics: m, sleep: clock.Sleep}
}

// Dispatch sends the jobs in order. A failing job does not stop the others.
func (d *Dispatcher) Dispatch(ctx context.Context, jobs []messages.NotificationJob) error {
	var errs []error
	for i, job := range jobs {
		if err := d.Send(ctx, job); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.metrics.NotificationWrite("failed")
			d.log.Errorw("notification not delivered", "recipient", job.Recipient, "err", err)
			errs = append(errs, err)
			continue
		}
		if d.cfg.Pacing > 0 && i < len(jobs)-1 {
			if err := d.sleep(ctx, d.cfg.Pacing); err != nil {
				return err
			}
		}
	}
	return errors.Join(errs...)
}

// Send writes one job once the slot is free.
func (d *Dispatcher) Send(ctx context.Context, job messages.NotificationJob) error {
	if job.Recipient == "" || strings.ContainsAny(job.Recipient, "|\n") {
		return fmt.Errorf("invalid recipient %q", job.Recipient)
	}
	if job.ImagePath != "" {
		if _, err := os.Stat(job.ImagePath); err != nil {
			d.log.Warnw("attachment missing, sending text only", "image", job.ImagePath, "err", err)
			job.ImagePath = ""
		}
	}

	forced, err := d.waitForSlot(ctx)
	if err != nil {
		return err
	}
	if forced {
		d.metrics.NotificationWrite("forced")
		d.log.Warnw("slot still occupied after grace period, overwriting", "slot", d.cfg.SlotPath, "grace", d.cfg.Grace)
	}
	if err := writeAtomic(d.cfg.SlotPath, []byte(job.Line())); err != nil {
		return err
	}
	d.metrics.NotificationWrite("written")
	d.log.Infow("notification queued", "recipient", job.Recipient, "with_image", job.ImagePath != "")
	return nil
}

// waitForSlot polls until the slot is absent. It reports forced=true when the grace expired.
func (d *Dispatcher) waitForSlot(ctx context.Context) (forced bool, err error) {
	deadline := time.Now().Add(d.cfg.Grace)
	for {
		busy, err := slotBusy(d.cfg.SlotPath)
		if err != nil {
			return false, err
		}
		if !busy {
			return false, nil
		}
		if !time.Now().Before(deadline) {
			return true, nil
		}
		if err := clock.Sleep(ctx, d.cfg.PollInterval); err != nil {
			return false, err
		}
	}
}

func slotBusy(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("stat slot: %w", err)
	}
	// an emptied slot counts as consumed
	return info.Size() > 0, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create slot temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write slot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close slot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("publish slot: %w", err)
	}
	return nil
}

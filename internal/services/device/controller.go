package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/LeonardoBeccarini/smartfarm/internal/clock"
	"github.com/LeonardoBeccarini/smartfarm/internal/logger"
)

// ErrShutdownDisabled is returned when no shutdown channel is configured.
var ErrShutdownDisabled = errors.New("remote shutdown disabled")

type Robot interface {
	MoveToPlant(ctx context.Context, plantID int) error
	FetchLatestImage(ctx context.Context) ([]byte, error)
	MoveToHome(ctx context.Context) error
}

type Rebooter interface {
	Reboot(ctx context.Context) error
}

type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Controller groups every side-effecting command sent to the robot and its compute node.
type Controller struct {
	robot       Robot
	rebooter    Rebooter
	shutdowner  Shutdowner
	imageDir    string
	settleDelay time.Duration
	log         *logger.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewController accepts a nil rebooter or shutdowner for deployments without them.
func NewController(robot Robot, rebooter Rebooter, shutdowner Shutdowner, imageDir string,
	settleDelay time.Duration, log *logger.Logger) *Controller {
	return &Controller{
		robot:       robot,
		rebooter:    rebooter,
		shutdowner:  shutdowner,
		imageDir:    imageDir,
		settleDelay: settleDelay,
		log:         log.Named("device"),
		now:         time.Now,
		sleep:       clock.Sleep,
	}
}

func (c *Controller) Reboot(ctx context.Context) error {
	if c.rebooter == nil {
		return errors.New("reboot not configured")
	}
	return c.rebooter.Reboot(ctx)
}

func (c *Controller) Shutdown(ctx context.Context) error {
	if c.shutdowner == nil {
		return ErrShutdownDisabled
	}
	return c.shutdowner.Shutdown(ctx)
}

func (c *Controller) MoveToHome(ctx context.Context) error {
	return c.robot.MoveToHome(ctx)
}

func (c *Controller) MoveToPlant(ctx context.Context, plantID int) error {
	return c.robot.MoveToPlant(ctx, plantID)
}

func (c *Controller) FetchLatestImage(ctx context.Context) ([]byte, error) {
	return c.robot.FetchLatestImage(ctx)
}

// CaptureImage moves to the plant, waits for the camera to settle, fetches the frame
// and stores it in the image directory. It returns the saved path.
func (c *Controller) CaptureImage(ctx context.Context, plantID int) (string, error) {
	if err := c.robot.MoveToPlant(ctx, plantID); err != nil {
		return "", err
	}
	if err := c.sleep(ctx, c.settleDelay); err != nil {
		return "", err
	}
	img, err := c.robot.FetchLatestImage(ctx)
	if err != nil {
		return "", err
	}
	path, err := c.saveImage(plantID, img)
	if err != nil {
		return "", err
	}
	c.log.Infow("image captured", "plant", plantID, "path", path, "bytes", len(img))
	return path, nil
}

func (c *Controller) saveImage(plantID int, img []byte) (string, error) {
	if err := os.MkdirAll(c.imageDir, 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}
	name := fmt.Sprintf("plant_%d_%d.jpg", plantID, c.now().Unix())
	path := filepath.Join(c.imageDir, name)
	tmp, err := os.CreateTemp(c.imageDir, name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create image file: %w", err)
	}
	if _, err := tmp.Write(img); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close image: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("store image: %w", err)
	}
	return path, nil
}

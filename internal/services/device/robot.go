package device

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/LeonardoBeccarini/smartfarm/internal/upstream"
)

// RobotClient is the HTTP API of the camera robot (port 5001 on the node).
type RobotClient struct {
	up *upstream.Upstream
}

func NewRobotClient(up *upstream.Upstream) *RobotClient {
	return &RobotClient{up: up}
}

func (r *RobotClient) MoveToPlant(ctx context.Context, plantID int) error {
	if _, err := r.up.Do(ctx, http.MethodPost, fmt.Sprintf("/api/move_to_plant/%d", plantID), nil, ""); err != nil {
		return fmt.Errorf("move to plant %d: %w", plantID, err)
	}
	return nil
}

func (r *RobotClient) FetchLatestImage(ctx context.Context) ([]byte, error) {
	img, err := r.up.Do(ctx, http.MethodGet, "/api/get_latest_image", nil, "")
	if err != nil {
		return nil, fmt.Errorf("fetch latest image: %w", err)
	}
	if len(img) == 0 {
		return nil, errors.New("fetch latest image: empty body")
	}
	return img, nil
}

func (r *RobotClient) MoveToHome(ctx context.Context) error {
	if _, err := r.up.Do(ctx, http.MethodPost, "/api/homing", nil, ""); err != nil {
		return fmt.Errorf("homing: %w", err)
	}
	return nil
}

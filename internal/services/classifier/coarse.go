package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/LeonardoBeccarini/smartfarm/internal/model/entities"
	"github.com/LeonardoBeccarini/smartfarm/internal/upstream"
)

// Detector is the fast coarse model: it returns the raw labels detected in an image.
type Detector interface {
	Detect(ctx context.Context, imagePath string) ([]string, error)
}

// raw model labels (including the model's own spellings) and their conditions
var labelConditions = map[string]entities.Condition{
	"not healty":       entities.ConditionUnhealthy,
	"not healthy":      entities.ConditionUnhealthy,
	"unhealthy":        entities.ConditionUnhealthy,
	"tidak sehat":      entities.ConditionUnhealthy,
	"healty":           entities.ConditionHealthy,
	"healthy":          entities.ConditionHealthy,
	"sehat":            entities.ConditionHealthy,
	"siap panen":       entities.ConditionReadyToHarvest,
	"ready to harvest": entities.ConditionReadyToHarvest,
	"belum siap":       entities.ConditionNotReady,
	"belum siap panen": entities.ConditionNotReady,
	"not ready":        entities.ConditionNotReady,
}

func normalizeLabel(label string) string {
	s := strings.ToLower(label)
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// LabelCondition maps one raw label; unknown labels are unclassified.
func LabelCondition(label string) entities.Condition {
	if c, ok := labelConditions[normalizeLabel(label)]; ok {
		return c
	}
	return entities.ConditionUnclassified
}

// ResolveCondition picks the highest-priority condition among all detections.
// Order and counts do not matter: a single unhealthy detection wins.
func ResolveCondition(labels []string) entities.Condition {
	best := entities.ConditionUnclassified
	for _, l := range labels {
		if c := LabelCondition(l); c.Rank() < best.Rank() {
			best = c
		}
	}
	return best
}

type detection struct {
	Label      string  `json:"label"`
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

type detectResponse struct {
	Detections []detection `json:"detections"`
}

// HTTPDetector posts images to the model server as multipart form data.
type HTTPDetector struct {
	up            *upstream.Upstream
	path          string
	minConfidence float64
}

func NewHTTPDetector(up *upstream.Upstream, path string, minConfidence float64) *HTTPDetector {
	return &HTTPDetector{up: up, path: path, minConfidence: minConfidence}
}

func (d *HTTPDetector) Detect(ctx context.Context, imagePath string) ([]string, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", filepath.Base(imagePath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	data, err := d.up.Do(ctx, http.MethodPost, d.path, buf.Bytes(), mw.FormDataContentType())
	if err != nil {
		return nil, err
	}
	var out detectResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode detections: %w", err)
	}
	labels := make([]string, 0, len(out.Detections))
	for _, det := range out.Detections {
		if det.Confidence < d.minConfidence {
			continue
		}
		label := det.Label
		if label == "" {
			label = det.Class
		}
		labels = append(labels, label)
	}
	return labels, nil
}

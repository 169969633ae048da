package messages

import (
	"time"

	"github.com/LeonardoBeccarini/smartfarm/internal/model/entities"
)

// PlantInspectionRecord is persisted once per plant per inspection run.
type PlantInspectionRecord struct {
	RunID     string              `json:"run_id"`
	PlantID   int                 `json:"plant_id"`
	Timestamp time.Time           `json:"timestamp"`
	Condition entities.Condition  `json:"condition"`
	Diagnosis *entities.Diagnosis `json:"diagnosis,omitempty"`
	ImagePath string              `json:"image_path"`
}

// DiagnosisText is the stored diagnosis summary, empty when none is available.
func (r PlantInspectionRecord) DiagnosisText() string {
	return r.Diagnosis.Summary()
}

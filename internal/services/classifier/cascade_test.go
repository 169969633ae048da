package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/LeonardoBeccarini/smartfarm/internal/logger"
	"github.com/LeonardoBeccarini/smartfarm/internal/model/entities"
)

type stubDetector struct {
	labels []string
	err    error
}

func (s stubDetector) Detect(context.Context, string) ([]string, error) { return s.labels, s.err }

type stubDiagnoser struct {
	diag  *entities.Diagnosis
	err   error
	calls int
}

func (s *stubDiagnoser) Diagnose(context.Context, string) (*entities.Diagnosis, error) {
	s.calls++
	return s.diag, s.err
}

func TestCascadeEscalatesOnlyUnhealthy(t *testing.T) {
	deep := &stubDiagnoser{diag: &entities.Diagnosis{Name: "Leaf blight"}}
	c := NewCascade(stubDetector{labels: []string{"healty", "siap-panen"}}, deep, 0, logger.Nop())
	out := c.Evaluate(context.Background(), "img.jpg")
	if out.Condition != entities.ConditionHealthy || out.Diagnosis != nil || deep.calls != 0 {
		t.Fatalf("healthy plant must not be escalated: %+v calls=%d", out, deep.calls)
	}

	c = NewCascade(stubDetector{labels: []string{"healty", "not healty"}}, deep, 0, logger.Nop())
	out = c.Evaluate(context.Background(), "img.jpg")
	if out.Condition != entities.ConditionUnhealthy || out.Diagnosis == nil || out.Diagnosis.Name != "Leaf blight" {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestCascadeDiagnosisFailureKeepsUnhealthy(t *testing.T) {
	deep := &stubDiagnoser{err: errors.New("503")}
	c := NewCascade(stubDetector{labels: []string{"not healty"}}, deep, 0, logger.Nop())
	out := c.Evaluate(context.Background(), "img.jpg")
	if out.Condition != entities.ConditionUnhealthy || out.Diagnosis != nil {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestCascadeDetectorFailure(t *testing.T) {
	deep := &stubDiagnoser{}
	c := NewCascade(stubDetector{err: errors.New("model server down")}, deep, 0, logger.Nop())
	out := c.Evaluate(context.Background(), "img.jpg")
	if out.Condition != entities.ConditionUnclassified || deep.calls != 0 {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

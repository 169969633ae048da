package classifier

import (
	"context"
	"time"

	"github.com/LeonardoBeccarini/smartfarm/internal/logger"
	"github.com/LeonardoBeccarini/smartfarm/internal/model/entities"
)

// Outcome is the cascade result for one image. Diagnosis is nil unless the plant is
// unhealthy and the deep step succeeded.
type Outcome struct {
	Condition entities.Condition
	Diagnosis *entities.Diagnosis
}

// Cascade runs the coarse detector and escalates unhealthy results to deep diagnosis.
type Cascade struct {
	coarse           Detector
	deep             Diagnoser
	diagnosisTimeout time.Duration
	log              *logger.Logger
}

func NewCascade(coarse Detector, deep Diagnoser, diagnosisTimeout time.Duration, log *logger.Logger) *Cascade {
	return &Cascade{coarse: coarse, deep: deep, diagnosisTimeout: diagnosisTimeout, log: log.Named("classifier")}
}

// ClassifyImage returns the coarse condition; detector failures degrade to unclassified.
func (c *Cascade) ClassifyImage(ctx context.Context, imagePath string) entities.Condition {
	labels, err := c.coarse.Detect(ctx, imagePath)
	if err != nil {
		c.log.Warnw("coarse classification failed", "image", imagePath, "err", err)
		return entities.ConditionUnclassified
	}
	cond := ResolveCondition(labels)
	c.log.Debugw("coarse classification", "image", imagePath, "labels", labels, "condition", cond)
	return cond
}

// Evaluate never fails: diagnosis problems leave Diagnosis nil.
func (c *Cascade) Evaluate(ctx context.Context, imagePath string) Outcome {
	out := Outcome{Condition: c.ClassifyImage(ctx, imagePath)}
	if out.Condition != entities.ConditionUnhealthy || c.deep == nil {
		return out
	}

	dctx := ctx
	if c.diagnosisTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, c.diagnosisTimeout)
		defer cancel()
	}
	d, err := c.deep.Diagnose(dctx, imagePath)
	if err != nil {
		c.log.Warnw("deep diagnosis unavailable", "image", imagePath, "err", err)
		return out
	}
	out.Diagnosis = d
	return out
}

package entities

// Condition is the coarse health/harvest label assigned to a plant image.
type Condition string

const (
	ConditionUnhealthy      Condition = "unhealthy"
	ConditionHealthy        Condition = "healthy"
	ConditionReadyToHarvest Condition = "ready_to_harvest"
	ConditionNotReady       Condition = "not_ready"
	ConditionUnclassified   Condition = "unclassified"
)

// Rank orders conditions when several are detected in the same image; lower wins.
func (c Condition) Rank() int {
	switch c {
	case ConditionUnhealthy:
		return 0
	case ConditionHealthy:
		return 1
	case ConditionReadyToHarvest:
		return 2
	case ConditionNotReady:
		return 3
	}
	return 4
}

func (c Condition) Valid() bool {
	switch c {
	case ConditionUnhealthy, ConditionHealthy, ConditionReadyToHarvest, ConditionNotReady, ConditionUnclassified:
		return true
	}
	return false
}

package entities

import "fmt"

// Diagnosis is the structured result of the deep disease identification.
type Diagnosis struct {
	Name        string  `json:"name"`
	Probability float64 `json:"probability"`
	CommonNames string  `json:"common_names,omitempty"`
	Symptoms    string  `json:"symptoms,omitempty"`
	Description string  `json:"description,omitempty"`
	Treatment   string  `json:"treatment,omitempty"`
}

// Summary is the one-line text stored with the inspection record and used in reports.
func (d *Diagnosis) Summary() string {
	if d == nil || d.Name == "" {
		return ""
	}
	if d.Probability > 0 {
		return fmt.Sprintf("Diagnosis: %s (%.0f%%)", d.Name, d.Probability*100)
	}
	return "Diagnosis: " + d.Name
}

package inspection

import (
	"fmt"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/smartfarm/internal/model/messages"
)

const (
	diagnosisPlaceholder   = "unhealthy, diagnosis unavailable"
	environmentPlaceholder = "Environment summary unavailable."
	weatherPlaceholder     = "Weather data unavailable."
)

// UnhealthyPlant is one entry of the report body.
type UnhealthyPlant struct {
	PlantID   int    `json:"plant_id"`
	Diagnosis string `json:"diagnosis,omitempty"`
	ImagePath string `json:"image_path"`
}

// ReportInput carries the cycle accumulator and the synopses gathered in Reporting.
type ReportInput struct {
	FarmName      string
	At            time.Time
	Unhealthy     []UnhealthyPlant
	HealthyImages []string
	Environment   string
	Weather       string
}

// Report is the composed message and its single attachment (empty for none).
type Report struct {
	Message    string `json:"message"`
	Attachment string `json:"attachment,omitempty"`
}

// ComposeReport builds the header from the local hour, lists unhealthy plants and picks
// the first unhealthy image, else the first healthy one.
func ComposeReport(in ReportInput) Report {
	var b strings.Builder

	period := "Afternoon"
	if in.At.Hour() < 12 {
		period = "Morning"
	}
	fmt.Fprintf(&b, "🌱 *%s Report, %s* 🌱\n\n", period, in.FarmName)

	var attachment string
	switch {
	case len(in.Unhealthy) > 0:
		fmt.Fprintf(&b, "🚨 *%d plant(s)* look unhealthy:\n", len(in.Unhealthy))
		for _, p := range in.Unhealthy {
			d := p.Diagnosis
			if d == "" {
				d = diagnosisPlaceholder
			}
			fmt.Fprintf(&b, "- *Plant #%d*: %s\n", p.PlantID, d)
		}
		attachment = in.Unhealthy[0].ImagePath
	case len(in.HealthyImages) > 0:
		b.WriteString("✅ Today's inspection shows every plant in good condition.\n")
		attachment = in.HealthyImages[0]
	default:
		b.WriteString("Inspection finished, but no plant image could be processed.\n")
	}

	env := strings.TrimSpace(in.Environment)
	if env == "" {
		env = environmentPlaceholder
	}
	weather := strings.TrimSpace(in.Weather)
	if weather == "" {
		weather = weatherPlaceholder
	}
	fmt.Fprintf(&b, "\n*Greenhouse environment:*\n%s\n\n*Today's weather:*\n%s", env, weather)

	return Report{Message: b.String(), Attachment: attachment}
}

// Jobs returns one notification job per recipient.
func (r Report) Jobs(recipients []string) []messages.NotificationJob {
	jobs := make([]messages.NotificationJob, 0, len(recipients))
	for _, to := range recipients {
		jobs = append(jobs, messages.NotificationJob{Recipient: to, Message: r.Message, ImagePath: r.Attachment})
	}
	return jobs
}

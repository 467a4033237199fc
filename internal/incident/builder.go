package incident

import (
	"strings"
	"time"

	"rescuenet-core/internal/classifier"
	"rescuenet-core/internal/models"

	"github.com/google/uuid"
)

// BuildIncident 从读数和分类结果构建新事件
func BuildIncident(reading *models.VitalReading, findings []models.AnomalyFinding) *models.EmergencyIncident {
	now := time.Now()

	return &models.EmergencyIncident{
		IncidentID:      uuid.New().String(),
		SubjectID:       reading.SubjectID,
		PrimaryType:     classifier.PrimaryType(findings),
		Severity:        classifier.OverallSeverity(findings),
		Status:          models.StatusActive,
		Description:     buildDescription(findings),
		ReadingID:       reading.ReadingID,
		TriggerSnapshot: models.SnapshotFromReading(reading),
		Location:        reading.Location,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// buildDescription 把各条违反拼成人读描述（主类型的描述排最前）
func buildDescription(findings []models.AnomalyFinding) string {
	if len(findings) == 0 {
		return ""
	}

	primary := classifier.PrimaryType(findings)
	details := make([]string, 0, len(findings))
	for _, f := range findings {
		if f.Kind == primary {
			details = append([]string{f.Detail}, details...)
			continue
		}
		details = append(details, f.Detail)
	}

	return strings.Join(details, "; ")
}

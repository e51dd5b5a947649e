package coordinator

import (
	"strings"
	"time"

	"github.com/sentinelsec/threatmesh/internal/model"
)

// behaviorRiskByActivity maps activity types to their behavior risk
// component.
var behaviorRiskByActivity = map[string]float64{
	"ADMIN_ACCESS":         0.3,
	"DATA_EXPORT":          0.25,
	"PRIVILEGE_ESCALATION": 0.4,
}

const defaultBehaviorRisk = 0.1

// computeRiskScore combines four independent components additively and
// clamps the total to 1.
func computeRiskScore(alert *model.ThreatAlert, activity *model.UserActivity) *model.RiskScore {
	score := &model.RiskScore{
		BaseRisk:     float64(alert.Severity.Ordinal()) * 0.25,
		TimeRisk:     timeRisk(activity.Timestamp),
		LocationRisk: locationRisk(activity.IPAddress),
		BehaviorRisk: behaviorRisk(activity.ActivityType),
		CalculatedAt: time.Now(),
	}
	total := score.BaseRisk + score.TimeRisk + score.LocationRisk + score.BehaviorRisk
	if total > 1 {
		total = 1
	}
	score.Score = total
	return score
}

func timeRisk(ts time.Time) float64 {
	hour := ts.Hour()
	switch {
	case hour < 6 || hour > 22:
		return 0.2
	case hour < 8 || hour > 18:
		return 0.1
	default:
		return 0
	}
}

// locationRisk treats RFC1918 private ranges as zero risk.
func locationRisk(ip string) float64 {
	if strings.HasPrefix(ip, "10.") ||
		strings.HasPrefix(ip, "192.168.") ||
		strings.HasPrefix(ip, "172.") {
		return 0
	}
	return 0.15
}

func behaviorRisk(activityType string) float64 {
	if risk, ok := behaviorRiskByActivity[activityType]; ok {
		return risk
	}
	return defaultBehaviorRisk
}

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sentinelsec/threatmesh/internal/metrics"
	"github.com/sentinelsec/threatmesh/internal/model"
)

// anomalyThreshold is the weighted score above which an activity raises an
// alert.
const anomalyThreshold = 0.85

// unusualActivityTypes are activity types that are anomalous for any user
// without an established pattern covering them.
var unusualActivityTypes = map[string]bool{
	"DATABASE_DUMP":        true,
	"MASS_FILE_DOWNLOAD":   true,
	"PRIVILEGE_ESCALATION": true,
	"DATA_EXPORT":          true,
}

// BehaviorAnalyzer scores user activities against behavior profiles and
// raises an alert when the weighted anomaly score crosses the threshold.
type BehaviorAnalyzer struct {
	*base

	profileMaxAge time.Duration

	profileMu sync.RWMutex
	profiles  map[string]*model.UserBehaviorProfile
}

// NewBehaviorAnalyzer creates the behavior analysis agent. profileMaxAge
// bounds how old a profile may be before it is recomputed.
func NewBehaviorAnalyzer(workers int, profileMaxAge time.Duration, m *metrics.Metrics, logger *slog.Logger) *BehaviorAnalyzer {
	a := &BehaviorAnalyzer{
		profileMaxAge: profileMaxAge,
		profiles:      make(map[string]*model.UserBehaviorProfile),
	}
	a.base = newBase(BehaviorAnalysisID, workers, m, logger, a.processTask)
	return a
}

func (a *BehaviorAnalyzer) processTask(_ context.Context, task *Task) (any, error) {
	activity, ok := task.Input.(*model.UserActivity)
	if !ok {
		return nil, fmt.Errorf("%w: %s expects *model.UserActivity, got %T", ErrBadInput, a.id, task.Input)
	}
	alert := a.Analyze(activity)
	if alert == nil {
		return nil, nil
	}
	return alert, nil
}

// Analyze scores one activity and returns an alert when it is anomalous.
func (a *BehaviorAnalyzer) Analyze(activity *model.UserActivity) *model.ThreatAlert {
	score := a.anomalyScore(activity)
	if score <= anomalyThreshold {
		return nil
	}

	alert := model.NewThreatAlert()
	alert.UserID = activity.UserID
	alert.SourceIP = activity.IPAddress
	alert.Description = "Unusual user behavior detected: " + activity.ActivityType
	alert.Severity = model.SeverityHigh
	alert.DetectedAt = activity.Timestamp
	alert.DetectedBy = a.id
	alert.Confidence = score

	a.logger.Debug("behavioral anomaly",
		"user_id", activity.UserID,
		"activity_type", activity.ActivityType,
		"score", score)
	return alert
}

// anomalyScore weighs time-of-day (30%), location (30%) and activity type
// (40%) factors.
func (a *BehaviorAnalyzer) anomalyScore(activity *model.UserActivity) float64 {
	hour := activity.Timestamp.Hour()
	var timeFactor float64
	switch {
	case hour < 6 || hour > 22:
		timeFactor = 0.9
	case hour < 8 || hour > 18:
		timeFactor = 0.7
	default:
		timeFactor = 0.1
	}

	locationFactor := 0.1
	if a.unusualLocation(activity) {
		locationFactor = 0.9
	}

	activityFactor := 0.2
	if a.unusualActivityType(activity) {
		activityFactor = 1.0
	}

	return 0.3*timeFactor + 0.3*locationFactor + 0.4*activityFactor
}

func (a *BehaviorAnalyzer) unusualLocation(activity *model.UserActivity) bool {
	if profile := a.ProfileFor(activity.UserID); profile != nil && profile.TypicalIP(activity.IPAddress) {
		return false
	}
	return !privateAddress(activity.IPAddress)
}

func (a *BehaviorAnalyzer) unusualActivityType(activity *model.UserActivity) bool {
	return unusualActivityTypes[activity.ActivityType]
}

func privateAddress(ip string) bool {
	return strings.HasPrefix(ip, "10.") ||
		strings.HasPrefix(ip, "192.168.") ||
		strings.HasPrefix(ip, "172.")
}

// ProfileFor returns the cached behavior profile for the user, recomputing
// it when missing or stale.
func (a *BehaviorAnalyzer) ProfileFor(userID string) *model.UserBehaviorProfile {
	a.profileMu.RLock()
	profile, ok := a.profiles[userID]
	a.profileMu.RUnlock()
	if ok && !profile.Stale(a.profileMaxAge) {
		return profile
	}

	profile = a.deriveProfile(userID)
	a.profileMu.Lock()
	a.profiles[userID] = profile
	a.profileMu.Unlock()
	return profile
}

// deriveProfile builds a baseline profile. A production deployment replaces
// this with aggregation over the user's activity history.
func (a *BehaviorAnalyzer) deriveProfile(userID string) *model.UserBehaviorProfile {
	return &model.UserBehaviorProfile{
		UserID:             userID,
		AvgSessionDuration: 45 * time.Minute,
		TypicalAccessHours: []int{9, 10, 11, 14, 15, 16, 17},
		FrequentResources:  []string{"/dashboard", "/reports", "/profile"},
		RiskProfile:        "LOW",
		LastAnalyzed:       time.Now(),
	}
}

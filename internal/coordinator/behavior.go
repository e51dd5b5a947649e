package coordinator

import (
	"context"
	"fmt"
	"time"

	retry "github.com/avast/retry-go/v4"

	"github.com/sentinelsec/threatmesh/internal/agent"
	"github.com/sentinelsec/threatmesh/internal/model"
)

// Adaptive action thresholds over the computed risk score.
const (
	lockoutThreshold    = 0.8
	mfaThreshold        = 0.6
	monitoringThreshold = 0.4
)

// ProcessUserBehavior runs the user-behavior workflow for one activity
// record.
func (c *Coordinator) ProcessUserBehavior(ctx context.Context, activity *model.UserActivity) (*model.WorkflowResult, error) {
	if activity == nil {
		return nil, retry.Unrecoverable(fmt.Errorf("nil user activity"))
	}

	exec, err := c.startWorkflow(WorkflowUserBehavior, activity)
	if err != nil {
		return nil, err
	}

	out, err := c.behaviorPolicy.Execute(ctx, func(ctx context.Context) (any, error) {
		return c.runBehaviorWorkflow(ctx, exec, activity)
	})
	if err != nil {
		c.finishWorkflow(exec, "", err)
		return fallbackResult(exec.WorkflowID, err), err
	}

	result := out.(*model.WorkflowResult)
	c.finishWorkflow(exec, resultSummary(result), nil)
	return result, nil
}

func (c *Coordinator) runBehaviorWorkflow(ctx context.Context, exec *model.WorkflowExecution, activity *model.UserActivity) (*model.WorkflowResult, error) {
	start := time.Now()
	exec.AddStep("analysis", "activity submitted to behavior analyzer")

	out, err := c.submitToAgent(ctx, agent.BehaviorAnalysisID, activity)
	if err != nil {
		return nil, fmt.Errorf("behavior analysis: %w", err)
	}
	if out == nil {
		exec.AddStep("clean", "no anomaly detected")
		return &model.WorkflowResult{
			WorkflowID:    exec.WorkflowID,
			Success:       true,
			ExecutionTime: time.Since(start),
		}, nil
	}

	alert, ok := out.(*model.ThreatAlert)
	if !ok {
		return nil, fmt.Errorf("unexpected behavior analyzer output %T", out)
	}
	alert.MarkProcessed(exec.WorkflowID)

	exec.AddStep("risk-assessment", "contextual risk score computed")
	risk := computeRiskScore(alert, activity)
	alert.Risk = risk

	exec.AddStep("profile", "behavior profile loaded for "+activity.UserID)
	c.loadProfile(activity.UserID)

	if c.cfg.EnableEnrichment && alert.IsHighSeverity() {
		exec.AddStep("enrichment", "threat intelligence lookup for "+alert.SourceIP)
		c.enrichAlert(ctx, alert)
	}

	exec.AddStep("learning", "activity offered to pattern learner")
	c.feedLearning(ctx, "behavior", alert, map[string]any{
		"user_id":       activity.UserID,
		"activity_type": activity.ActivityType,
		"ip_address":    activity.IPAddress,
		"hour":          activity.Timestamp.Hour(),
		"risk_score":    risk.Score,
	})

	exec.AddStep("response", "adaptive actions generated")
	actions := prepareActions(adaptiveActions(risk, activity))

	c.publishAlert(ctx, alert)

	return &model.WorkflowResult{
		WorkflowID:    exec.WorkflowID,
		Success:       true,
		Actions:       actions,
		Alert:         alert,
		Risk:          risk,
		ExecutionTime: time.Since(start),
	}, nil
}

// loadProfile keeps the analyzer's profile cache warm. The behavior agent
// owns profile derivation.
func (c *Coordinator) loadProfile(userID string) *model.UserBehaviorProfile {
	a := c.orch.Agent(agent.BehaviorAnalysisID)
	analyzer, ok := a.(*agent.BehaviorAnalyzer)
	if !ok {
		return nil
	}
	return analyzer.ProfileFor(userID)
}

// adaptiveActions maps the aggregate risk score onto escalation steps. The
// thresholds stack, a very high score produces the full ladder.
func adaptiveActions(risk *model.RiskScore, activity *model.UserActivity) []*model.ResponseAction {
	var actions []*model.ResponseAction

	add := func(actionType, target, description string, automatic bool, priority int) {
		action := model.NewResponseAction(actionType, target, automatic)
		action.Description = description
		action.Priority = priority
		actions = append(actions, action)
	}

	if risk.Score > lockoutThreshold {
		add("IMMEDIATE_LOCKOUT", activity.UserID,
			"Lock the account immediately", true, 10)
	}
	if risk.Score > mfaThreshold {
		add("REQUIRE_MFA", activity.UserID,
			"Require additional authentication on next access", true, 8)
	}
	if risk.Score > monitoringThreshold {
		add("INCREASE_MONITORING", activity.UserID,
			"Increase monitoring of the user's sessions", true, 5)
	}
	add("NOTIFY_SECURITY_TEAM", activity.UserID,
		"Notify the security team of the anomaly", false, 7)

	return actions
}

package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sentinelsec/threatmesh/internal/metrics"
	"github.com/sentinelsec/threatmesh/internal/model"
)

// ThreatResponder plans countermeasures for alerts and executes the
// automatic subset.
type ThreatResponder struct {
	*base
}

// NewThreatResponder creates the threat response agent.
func NewThreatResponder(workers int, m *metrics.Metrics, logger *slog.Logger) *ThreatResponder {
	a := &ThreatResponder{}
	a.base = newBase(ThreatResponseID, workers, m, logger, a.processTask)
	return a
}

func (a *ThreatResponder) processTask(_ context.Context, task *Task) (any, error) {
	alert, ok := task.Input.(*model.ThreatAlert)
	if !ok {
		return nil, fmt.Errorf("%w: %s expects *model.ThreatAlert, got %T", ErrBadInput, a.id, task.Input)
	}
	return a.Respond(alert), nil
}

// Respond builds the action plan for the alert's severity and executes
// every automatic action in it.
func (a *ThreatResponder) Respond(alert *model.ThreatAlert) []*model.ResponseAction {
	actions := a.Plan(alert)
	for _, action := range actions {
		if !action.Automatic {
			continue
		}
		a.execute(action)
	}
	a.logger.Info("response plan built",
		"alert_id", alert.ID,
		"severity", alert.Severity,
		"actions", len(actions))
	return actions
}

// Plan maps the alert severity to its countermeasure set without executing
// anything.
func (a *ThreatResponder) Plan(alert *model.ThreatAlert) []*model.ResponseAction {
	var actions []*model.ResponseAction

	add := func(actionType, target, description string, automatic bool, priority int) {
		action := model.NewResponseAction(actionType, target, automatic)
		action.Description = description
		action.Priority = priority
		actions = append(actions, action)
	}

	switch alert.Severity {
	case model.SeverityCritical:
		add("BLOCK_IP", alert.SourceIP,
			"Block source IP at the perimeter firewall", true, 10)
		add("NOTIFY_SECURITY_TEAM", "",
			"Page the on-call security team", true, 10)
		add("ISOLATE_SYSTEM", alert.SystemID,
			"Isolate the affected system from the network", false, 9)
	case model.SeverityHigh:
		add("RATE_LIMIT_IP", alert.SourceIP,
			"Rate limit traffic from the source IP", true, 8)
		add("NOTIFY_SECURITY_TEAM", "",
			"Notify the security team", true, 8)
	case model.SeverityMedium:
		add("INCREASE_MONITORING", alert.SourceIP,
			"Increase monitoring on the source", true, 6)
		add("NOTIFY_ADMIN", "",
			"Notify the system administrator", true, 5)
	default:
		add("LOG_ALERT", "",
			"Record the alert for later review", true, 3)
	}

	return actions
}

func (a *ThreatResponder) execute(action *model.ResponseAction) {
	// Execution is simulated; integrations sit behind the action type.
	action.MarkExecuted(a.id, fmt.Sprintf("%s completed", action.Type))
	a.logger.Info("action executed",
		"action_type", action.Type,
		"target", action.Target,
		"priority", action.Priority)
}

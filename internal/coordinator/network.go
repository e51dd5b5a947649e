package coordinator

import (
	"context"
	"fmt"
	"time"

	retry "github.com/avast/retry-go/v4"

	"github.com/sentinelsec/threatmesh/internal/agent"
	"github.com/sentinelsec/threatmesh/internal/model"
)

// ProcessNetworkTraffic runs the network-traffic workflow for one packet.
// Capacity rejection comes back as ErrCapacity without an execution record;
// resilience rejections come back as the sentinel error together with an
// unsuccessful fallback result.
func (c *Coordinator) ProcessNetworkTraffic(ctx context.Context, packet *model.NetworkPacket) (*model.WorkflowResult, error) {
	if packet == nil {
		return nil, retry.Unrecoverable(fmt.Errorf("nil network packet"))
	}

	exec, err := c.startWorkflow(WorkflowNetworkTraffic, packet)
	if err != nil {
		return nil, err
	}

	out, err := c.networkPolicy.Execute(ctx, func(ctx context.Context) (any, error) {
		return c.runNetworkWorkflow(ctx, exec, packet)
	})
	if err != nil {
		c.finishWorkflow(exec, "", err)
		return fallbackResult(exec.WorkflowID, err), err
	}

	result := out.(*model.WorkflowResult)
	c.finishWorkflow(exec, resultSummary(result), nil)
	return result, nil
}

func (c *Coordinator) runNetworkWorkflow(ctx context.Context, exec *model.WorkflowExecution, packet *model.NetworkPacket) (*model.WorkflowResult, error) {
	start := time.Now()
	exec.AddStep("detection", "packet submitted to network monitor")

	out, err := c.submitToAgent(ctx, agent.NetworkMonitorID, packet)
	if err != nil {
		return nil, fmt.Errorf("network detection: %w", err)
	}
	if out == nil {
		exec.AddStep("clean", "no threat detected")
		return &model.WorkflowResult{
			WorkflowID:    exec.WorkflowID,
			Success:       true,
			ExecutionTime: time.Since(start),
		}, nil
	}

	alert, ok := out.(*model.ThreatAlert)
	if !ok {
		return nil, fmt.Errorf("unexpected network monitor output %T", out)
	}
	alert.MarkProcessed(exec.WorkflowID)

	if c.cfg.EnableEnrichment {
		exec.AddStep("enrichment", "threat intelligence lookup for "+alert.SourceIP)
		c.enrichAlert(ctx, alert)
	}

	exec.AddStep("learning", "observation offered to pattern learner")
	c.feedLearning(ctx, "network", alert, map[string]any{
		"source_ip":        packet.SourceIP,
		"destination_ip":   packet.DestinationIP,
		"destination_port": packet.DestinationPort,
		"protocol":         packet.Protocol,
		"size":             packet.Size,
	})

	exec.AddStep("response", "alert submitted to response agent")
	actions, err := c.planResponse(ctx, alert)
	if err != nil {
		return nil, fmt.Errorf("network response planning: %w", err)
	}

	c.publishAlert(ctx, alert)

	return &model.WorkflowResult{
		WorkflowID:    exec.WorkflowID,
		Success:       true,
		Actions:       actions,
		Alert:         alert,
		ExecutionTime: time.Since(start),
	}, nil
}

func resultSummary(result *model.WorkflowResult) string {
	switch {
	case result.Report != nil:
		return fmt.Sprintf("%d correlations, aggregated risk %.2f",
			len(result.Report.Correlations), result.Report.AggregatedRisk)
	case result.Alert != nil:
		return fmt.Sprintf("%s alert, %d actions", result.Alert.Severity, len(result.Actions))
	default:
		return "no threat detected"
	}
}

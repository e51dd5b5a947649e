package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sentinelsec/threatmesh/internal/metrics"
	"github.com/sentinelsec/threatmesh/internal/model"
)

// suspiciousPorts are destination ports associated with known tooling.
var suspiciousPorts = map[int]bool{
	4444:  true,
	31337: true,
	8090:  true,
}

// NetworkMonitor inspects network packets for known-bad signatures and
// destination ports.
type NetworkMonitor struct {
	*base
}

// NewNetworkMonitor creates the network monitoring agent.
func NewNetworkMonitor(workers int, m *metrics.Metrics, logger *slog.Logger) *NetworkMonitor {
	a := &NetworkMonitor{}
	a.base = newBase(NetworkMonitorID, workers, m, logger, a.processTask)
	return a
}

func (a *NetworkMonitor) processTask(_ context.Context, task *Task) (any, error) {
	packet, ok := task.Input.(*model.NetworkPacket)
	if !ok {
		return nil, fmt.Errorf("%w: %s expects *model.NetworkPacket, got %T", ErrBadInput, a.id, task.Input)
	}
	alert := a.Analyze(packet)
	if alert == nil {
		return nil, nil
	}
	return alert, nil
}

// Analyze inspects one packet and returns an alert, or nil when the packet
// looks clean.
func (a *NetworkMonitor) Analyze(packet *model.NetworkPacket) *model.ThreatAlert {
	if !a.anomalous(packet) {
		return nil
	}

	alert := model.NewThreatAlert()
	alert.SourceIP = packet.SourceIP
	alert.DestinationIP = packet.DestinationIP
	alert.Description = "Anomalous network traffic detected"
	alert.Severity = model.SeverityMedium
	alert.DetectedAt = packet.Timestamp
	alert.DetectedBy = a.id
	alert.Confidence = 0.75

	a.logger.Debug("packet flagged",
		"packet_id", packet.PacketID,
		"source_ip", packet.SourceIP,
		"destination_port", packet.DestinationPort)
	return alert
}

func (a *NetworkMonitor) anomalous(packet *model.NetworkPacket) bool {
	if strings.Contains(packet.Payload, "malicious_signature") {
		return true
	}
	return suspiciousPorts[packet.DestinationPort]
}

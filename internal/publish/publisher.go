// Package publish pushes finalized alerts and correlation reports onto the
// NATS event bus for downstream consumers.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/nats-io/nats.go"

	"github.com/sentinelsec/threatmesh/internal/model"
)

// Publisher is the event bus surface the coordinator depends on.
type Publisher interface {
	PublishAlert(ctx context.Context, alert *model.ThreatAlert) error
	PublishReport(ctx context.Context, report *model.ThreatCorrelationReport) error
}

// NATSPublisher publishes alerts and reports over a NATS connection.
// Payloads above the compression floor are zstd-compressed and flagged via
// the content-encoding header.
type NATSPublisher struct {
	conn          *nats.Conn
	alertSubject  string
	reportSubject string
	compressMin   int
	encoder       *zstd.Encoder
	logger        *slog.Logger
}

// NewNATSPublisher creates a publisher. compressMin <= 0 disables
// compression.
func NewNATSPublisher(conn *nats.Conn, alertSubject, reportSubject string, compressMin int, logger *slog.Logger) (*NATSPublisher, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return &NATSPublisher{
		conn:          conn,
		alertSubject:  alertSubject,
		reportSubject: reportSubject,
		compressMin:   compressMin,
		encoder:       encoder,
		logger:        logger.With("component", "publisher"),
	}, nil
}

// PublishAlert publishes one alert to the alert subject.
func (p *NATSPublisher) PublishAlert(ctx context.Context, alert *model.ThreatAlert) error {
	headers := nats.Header{}
	headers.Set("x-alert-id", alert.ID)
	headers.Set("x-severity", string(alert.Severity))
	headers.Set("x-detected-by", alert.DetectedBy)
	headers.Set("x-workflow-id", alert.WorkflowID)
	headers.Set("x-timestamp", alert.DetectedAt.Format(time.RFC3339))

	if err := p.publish(ctx, p.alertSubject, alert, headers); err != nil {
		return fmt.Errorf("failed to publish alert %s: %w", alert.ID, err)
	}

	p.logger.Info("published alert",
		"alert_id", alert.ID,
		"severity", alert.Severity,
		"subject", p.alertSubject)
	return nil
}

// PublishReport publishes one correlation report to the report subject.
func (p *NATSPublisher) PublishReport(ctx context.Context, report *model.ThreatCorrelationReport) error {
	headers := nats.Header{}
	headers.Set("x-workflow-id", report.WorkflowID)
	headers.Set("x-correlations", strconv.Itoa(len(report.Correlations)))
	headers.Set("x-aggregated-risk", strconv.FormatFloat(report.AggregatedRisk, 'f', 2, 64))
	headers.Set("x-timestamp", report.EndedAt.Format(time.RFC3339))

	if err := p.publish(ctx, p.reportSubject, report, headers); err != nil {
		return fmt.Errorf("failed to publish report %s: %w", report.WorkflowID, err)
	}

	p.logger.Info("published correlation report",
		"workflow_id", report.WorkflowID,
		"correlations", len(report.Correlations),
		"subject", p.reportSubject)
	return nil
}

func (p *NATSPublisher) publish(ctx context.Context, subject string, payload any, headers nats.Header) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.conn == nil || !p.conn.IsConnected() {
		return fmt.Errorf("NATS connection not available")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    p.encode(data, headers),
		Header:  headers,
	}
	return p.conn.PublishMsg(msg)
}

// encode compresses data in place when it crosses the compression floor,
// marking the encoding in the message headers.
func (p *NATSPublisher) encode(data []byte, headers nats.Header) []byte {
	if p.compressMin <= 0 || len(data) < p.compressMin {
		return data
	}
	compressed := p.encoder.EncodeAll(data, nil)
	headers.Set("content-encoding", "zstd")
	headers.Set("x-uncompressed-size", strconv.Itoa(len(data)))
	p.logger.Debug("compressed payload",
		"raw_bytes", len(data),
		"compressed_bytes", len(compressed))
	return compressed
}

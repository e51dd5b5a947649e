package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/sentinelsec/threatmesh/internal/metrics"
	"github.com/sentinelsec/threatmesh/internal/model"
)

// ThreatIntel answers indicator lookups from a TTL cache, synthesizing a
// classification from feed heuristics on a miss.
type ThreatIntel struct {
	*base

	cache *expirable.LRU[string, *model.ThreatIntelligence]
}

// NewThreatIntel creates the threat intelligence agent. Cache entries
// expire after ttl.
func NewThreatIntel(workers, cacheSize int, ttl time.Duration, m *metrics.Metrics, logger *slog.Logger) *ThreatIntel {
	a := &ThreatIntel{
		cache: expirable.NewLRU[string, *model.ThreatIntelligence](cacheSize, nil, ttl),
	}
	a.base = newBase(ThreatIntelligenceID, workers, m, logger, a.processTask)
	return a
}

func (a *ThreatIntel) processTask(_ context.Context, task *Task) (any, error) {
	query, ok := task.Input.(*model.IntelligenceQuery)
	if !ok {
		return nil, fmt.Errorf("%w: %s expects *model.IntelligenceQuery, got %T", ErrBadInput, a.id, task.Input)
	}
	return a.Lookup(query), nil
}

// Lookup resolves one indicator, serving repeated queries from the cache
// until the entry expires.
func (a *ThreatIntel) Lookup(query *model.IntelligenceQuery) *model.ThreatIntelligence {
	if intel, ok := a.cache.Get(query.Indicator); ok {
		if a.metrics != nil {
			a.metrics.IntelCacheHits.Inc()
		}
		a.logger.Debug("intelligence cache hit", "indicator", query.Indicator)
		return intel
	}
	if a.metrics != nil {
		a.metrics.IntelCacheMisses.Inc()
	}

	intel := a.synthesize(query)
	a.cache.Add(query.Indicator, intel)
	a.logger.Debug("intelligence synthesized",
		"indicator", query.Indicator,
		"type", query.Type,
		"malicious", intel.Malicious)
	return intel
}

// synthesize classifies an indicator by type when no feed entry is cached.
func (a *ThreatIntel) synthesize(query *model.IntelligenceQuery) *model.ThreatIntelligence {
	intel := &model.ThreatIntelligence{
		Indicator:  query.Indicator,
		Type:       query.Type,
		ReportedAt: time.Now(),
	}

	switch query.Type {
	case model.IndicatorIP:
		if strings.HasPrefix(query.Indicator, "10.") {
			intel.Malicious = false
			intel.Confidence = 0.1
			intel.ThreatType = "None"
			intel.Reputation = "CLEAN"
		} else {
			intel.Malicious = true
			intel.Confidence = 0.85
			intel.ThreatType = "Command and Control"
			intel.Reputation = "MALICIOUS"
			intel.Sources = []string{"External Threat Feed"}
		}
	case model.IndicatorDomain:
		if strings.Contains(query.Indicator, "example.com") {
			intel.Malicious = false
			intel.Confidence = 0.05
			intel.ThreatType = "None"
			intel.Reputation = "CLEAN"
		} else {
			intel.Malicious = true
			intel.Confidence = 0.92
			intel.ThreatType = "Phishing"
			intel.Reputation = "MALICIOUS"
			intel.Sources = []string{"Threat Database"}
		}
	case model.IndicatorHash:
		intel.Malicious = true
		intel.Confidence = 0.98
		intel.ThreatType = "Ransomware"
		intel.Reputation = "MALICIOUS"
		intel.Sources = []string{"Malware Database"}
	default:
		intel.Malicious = false
		intel.Confidence = 0
		intel.ThreatType = "Unknown"
		intel.Reputation = "UNKNOWN"
	}

	return intel
}

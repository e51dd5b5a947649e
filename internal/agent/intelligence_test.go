package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelsec/threatmesh/internal/model"
)

func TestLookupByIndicatorType(t *testing.T) {
	a := NewThreatIntel(2, 128, time.Hour, nil, testLogger())

	tests := []struct {
		name       string
		query      *model.IntelligenceQuery
		malicious  bool
		threatType string
		confidence float64
	}{
		{
			name:       "internal ip is clean",
			query:      &model.IntelligenceQuery{Indicator: "10.0.0.5", Type: model.IndicatorIP},
			malicious:  false,
			threatType: "None",
			confidence: 0.1,
		},
		{
			name:       "external ip flagged as c2",
			query:      &model.IntelligenceQuery{Indicator: "203.0.113.66", Type: model.IndicatorIP},
			malicious:  true,
			threatType: "Command and Control",
			confidence: 0.85,
		},
		{
			name:       "example domain is clean",
			query:      &model.IntelligenceQuery{Indicator: "www.example.com", Type: model.IndicatorDomain},
			malicious:  false,
			threatType: "None",
			confidence: 0.05,
		},
		{
			name:       "other domain flagged as phishing",
			query:      &model.IntelligenceQuery{Indicator: "login-verify.test", Type: model.IndicatorDomain},
			malicious:  true,
			threatType: "Phishing",
			confidence: 0.92,
		},
		{
			name:       "hash flagged as ransomware",
			query:      &model.IntelligenceQuery{Indicator: "d41d8cd98f00b204e9800998ecf8427e", Type: model.IndicatorHash},
			malicious:  true,
			threatType: "Ransomware",
			confidence: 0.98,
		},
		{
			name:       "unhandled type is unknown",
			query:      &model.IntelligenceQuery{Indicator: "alice@example.com", Type: model.IndicatorEmail},
			malicious:  false,
			threatType: "Unknown",
			confidence: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intel := a.Lookup(tt.query)
			require.NotNil(t, intel)
			assert.Equal(t, tt.query.Indicator, intel.Indicator)
			assert.Equal(t, tt.malicious, intel.Malicious)
			assert.Equal(t, tt.threatType, intel.ThreatType)
			assert.InDelta(t, tt.confidence, intel.Confidence, 1e-9)
		})
	}
}

func TestLookupServesRepeatsFromCache(t *testing.T) {
	a := NewThreatIntel(2, 128, time.Hour, nil, testLogger())
	query := &model.IntelligenceQuery{Indicator: "203.0.113.66", Type: model.IndicatorIP}

	first := a.Lookup(query)
	second := a.Lookup(query)
	assert.Same(t, first, second)
}

func TestLookupResynthesizesAfterExpiry(t *testing.T) {
	a := NewThreatIntel(2, 128, 20*time.Millisecond, nil, testLogger())
	query := &model.IntelligenceQuery{Indicator: "203.0.113.66", Type: model.IndicatorIP}

	first := a.Lookup(query)
	time.Sleep(60 * time.Millisecond)
	second := a.Lookup(query)
	assert.NotSame(t, first, second)
	assert.Equal(t, first.ThreatType, second.ThreatType)
}

package agent

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelsec/threatmesh/internal/model"
)

func sample(modelType string, priority bool) *model.LearningData {
	return &model.LearningData{
		ID:          "sample-1",
		ModelType:   modelType,
		Priority:    priority,
		CollectedAt: time.Now(),
	}
}

func TestIngestBuffersUntilLimit(t *testing.T) {
	a := NewPatternLearner(2, 3, time.Hour, nil, testLogger())

	assert.Nil(t, a.Ingest(sample("network", false)))
	assert.Nil(t, a.Ingest(sample("network", false)))
	assert.Equal(t, 2, a.BufferedSamples())

	update := a.Ingest(sample("network", false))
	require.NotNil(t, update)
	assert.Equal(t, "network", update.ModelType)
	assert.Equal(t, 3, update.TrainingSamples)
	assert.Equal(t, 0, a.BufferedSamples())
}

func TestIngestPrioritySampleFlushesImmediately(t *testing.T) {
	a := NewPatternLearner(2, 100, time.Hour, nil, testLogger())

	assert.Nil(t, a.Ingest(sample("network", false)))
	update := a.Ingest(sample("behavior", true))
	require.NotNil(t, update)
	assert.Equal(t, "behavior", update.ModelType)
	assert.Equal(t, 1, update.TrainingSamples)
	assert.Equal(t, 0, a.BufferedSamples())
}

func TestFlushEmitsOneUpdatePerModelType(t *testing.T) {
	a := NewPatternLearner(2, 100, time.Hour, nil, testLogger())

	for i := 0; i < 4; i++ {
		a.Ingest(sample("network", false))
	}
	for i := 0; i < 2; i++ {
		a.Ingest(sample("behavior", false))
	}

	updates := a.Flush()
	require.Len(t, updates, 2)

	byType := make(map[string]*model.ModelUpdate)
	for _, u := range updates {
		byType[u.ModelType] = u
	}
	require.Contains(t, byType, "network")
	require.Contains(t, byType, "behavior")
	assert.Equal(t, 4, byType["network"].TrainingSamples)
	assert.Equal(t, 2, byType["behavior"].TrainingSamples)

	for _, u := range updates {
		assert.Equal(t, "UPDATED", u.Status)
		assert.InDelta(t, 0.95, u.Metrics["accuracy"], 1e-9)
		assert.InDelta(t, 0.91, u.Metrics["f1"], 1e-9)
	}

	assert.Empty(t, a.Flush())
}

func TestIngestConcurrent(t *testing.T) {
	a := NewPatternLearner(4, 1000, time.Hour, nil, testLogger())

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 50; i++ {
				a.Ingest(sample(fmt.Sprintf("model-%d", g%2), false))
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}

	assert.Equal(t, 400, a.BufferedSamples())

	updates := a.Flush()
	require.Len(t, updates, 2)
	assert.Equal(t, 400, updates[0].TrainingSamples+updates[1].TrainingSamples)
}

func TestStopHaltsFlushLoop(t *testing.T) {
	a := NewPatternLearner(2, 100, 10*time.Millisecond, nil, testLogger())
	a.Start()
	a.Ingest(sample("network", false))

	assert.Eventually(t, func() bool {
		return a.BufferedSamples() == 0
	}, time.Second, 5*time.Millisecond)

	a.Stop()
	assert.Equal(t, StateStopped, a.Status().State)
}

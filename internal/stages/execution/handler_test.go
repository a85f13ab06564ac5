package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	pipelineerrors "insight-pipeline/internal/common/errors"
	"insight-pipeline/internal/common/logger"
	"insight-pipeline/internal/models"
	"insight-pipeline/internal/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ==========================
// Shared Test Stubs
// ==========================

type stubStore struct {
	sources   map[string]*models.DataSource
	schemas   map[string]*models.SourceSchema
	getErr    error
	schemaErr error
}

func (s *stubStore) ListReady(ctx context.Context, workspaceID string) ([]models.DataSource, error) {
	return nil, nil
}

func (s *stubStore) Get(ctx context.Context, sourceID string) (*models.DataSource, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if src, ok := s.sources[sourceID]; ok {
		return src, nil
	}
	return nil, registry.ErrSourceNotFound
}

func (s *stubStore) GetSchema(ctx context.Context, sourceID string) (*models.SourceSchema, error) {
	if s.schemaErr != nil {
		return nil, s.schemaErr
	}
	if schema, ok := s.schemas[sourceID]; ok {
		return schema, nil
	}
	return nil, registry.ErrSchemaNotFound
}

type stubDecryptor struct {
	payload []byte
	err     error
}

func (s *stubDecryptor) Decrypt(encrypted string) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.payload, nil
}

// stubCoordinator records its calls and replays canned envelopes. A delay
// lets tests exercise ordering and cancellation.
type stubCoordinator struct {
	mu      sync.Mutex
	calls   []string
	delay   time.Duration
	results map[string]*models.SourceExecutionResult
}

func (s *stubCoordinator) Execute(ctx context.Context, query *models.Query, source models.RankedSource) *models.SourceExecutionResult {
	s.mu.Lock()
	s.calls = append(s.calls, source.Candidate.ID)
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return FailureResult(source, pipelineerrors.ErrCodeSourceExecutionFailed, "execution cancelled")
		}
	}
	if r, ok := s.results[source.Candidate.ID]; ok {
		out := *r
		return &out
	}
	return &models.SourceExecutionResult{
		Success:    true,
		Data:       []models.Row{{"value": 1}},
		TokensUsed: 10,
	}
}

func (s *stubCoordinator) callOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

func plannedSource(id string, kind models.SourceKind, rank int) models.RankedSource {
	return models.RankedSource{
		Candidate: models.DataSourceCandidate{
			ID:             id,
			Name:           "Source " + id,
			Kind:           kind,
			RelevanceScore: 0.8,
		},
		Rank:     rank,
		Priority: "medium",
	}
}

func testPlan(strategy models.ProcessingStrategy, sources ...models.RankedSource) *models.ExecutionPlan {
	return &models.ExecutionPlan{
		Sources:             sources,
		ProcessingStrategy:  strategy,
		CombinationApproach: models.CombineComplementary,
	}
}

func testQuery() *models.Query {
	return &models.Query{Text: "how many donations in Hyderabad?", WorkspaceID: "ws-1"}
}

func newStageHandler(t *testing.T, coordinator Coordinator) *Handler {
	t.Helper()
	coordinators := map[models.SourceKind]Coordinator{
		models.SourceKindDatabase:    coordinator,
		models.SourceKindFile:        coordinator,
		models.SourceKindAPIEndpoint: coordinator,
	}
	return NewHandler(LoadConfig(), coordinators, logger.NewTestLogger(t))
}

// ==========================
// Parallel Fan-Out Tests
// ==========================

func TestHandler_Execute_ParallelResultsKeepPlanOrder(t *testing.T) {
	// The first planned source is the slowest; plan order must still win.
	coordinator := &stubCoordinator{
		delay: 20 * time.Millisecond,
		results: map[string]*models.SourceExecutionResult{
			"src-1": {Success: true, Data: []models.Row{{"n": 1}}, TokensUsed: 30},
			"src-2": {Success: true, Data: []models.Row{{"n": 2}}, TokensUsed: 20},
			"src-3": {Success: true, Data: []models.Row{{"n": 3}}, TokensUsed: 10},
		},
	}
	handler := newStageHandler(t, coordinator)
	plan := testPlan(models.StrategyParallel,
		plannedSource("src-1", models.SourceKindDatabase, 1),
		plannedSource("src-2", models.SourceKindFile, 2),
		plannedSource("src-3", models.SourceKindAPIEndpoint, 3),
	)

	out, err := handler.Execute(context.Background(), &Input{Query: testQuery(), Plan: plan})

	require.NoError(t, err)
	require.Len(t, out.Results, 3)
	assert.Equal(t, "src-1", out.Results[0].SourceID)
	assert.Equal(t, "src-2", out.Results[1].SourceID)
	assert.Equal(t, "src-3", out.Results[2].SourceID)
	assert.Equal(t, 60, out.TokensUsed)
}

func TestHandler_Execute_ParallelPartialFailure(t *testing.T) {
	coordinator := &stubCoordinator{
		results: map[string]*models.SourceExecutionResult{
			"src-2": {
				Success:   false,
				ErrorCode: string(pipelineerrors.ErrCodeSourceExecutionFailed),
				Error:     "query execution failed",
			},
		},
	}
	handler := newStageHandler(t, coordinator)
	plan := testPlan(models.StrategyParallel,
		plannedSource("src-1", models.SourceKindDatabase, 1),
		plannedSource("src-2", models.SourceKindDatabase, 2),
	)

	out, err := handler.Execute(context.Background(), &Input{Query: testQuery(), Plan: plan})

	// One failure never aborts the stage; both envelopes are present.
	require.NoError(t, err)
	require.Len(t, out.Results, 2)
	assert.True(t, out.Results[0].Success)
	assert.False(t, out.Results[1].Success)
	assert.Equal(t, string(pipelineerrors.ErrCodeSourceExecutionFailed), out.Results[1].ErrorCode)
	assert.Equal(t, 1, models.SucceededCount(out.Results))
}

func TestHandler_Execute_ParallelCancelledContextStillOneEnvelopePerSource(t *testing.T) {
	coordinator := &stubCoordinator{delay: time.Second}
	handler := newStageHandler(t, coordinator)
	plan := testPlan(models.StrategyParallel,
		plannedSource("src-1", models.SourceKindDatabase, 1),
		plannedSource("src-2", models.SourceKindDatabase, 2),
		plannedSource("src-3", models.SourceKindDatabase, 3),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := handler.Execute(ctx, &Input{Query: testQuery(), Plan: plan})

	require.NoError(t, err)
	require.Len(t, out.Results, 3)
	for _, r := range out.Results {
		assert.False(t, r.Success)
		assert.NotEmpty(t, r.ErrorCode)
	}
}

// ==========================
// Serial Execution Tests
// ==========================

func TestHandler_Execute_SerialRunsInRankOrder(t *testing.T) {
	coordinator := &stubCoordinator{}
	handler := newStageHandler(t, coordinator)
	plan := testPlan(models.StrategySequential,
		plannedSource("src-2", models.SourceKindDatabase, 1),
		plannedSource("src-1", models.SourceKindFile, 2),
		plannedSource("src-3", models.SourceKindAPIEndpoint, 3),
	)

	out, err := handler.Execute(context.Background(), &Input{Query: testQuery(), Plan: plan})

	require.NoError(t, err)
	assert.Equal(t, []string{"src-2", "src-1", "src-3"}, coordinator.callOrder())
	assert.Equal(t, []string{"src-2", "src-1", "src-3"},
		[]string{out.Results[0].SourceID, out.Results[1].SourceID, out.Results[2].SourceID})
}

func TestHandler_Execute_SingleSourceStrategyRunsSerially(t *testing.T) {
	coordinator := &stubCoordinator{}
	handler := newStageHandler(t, coordinator)
	plan := testPlan(models.StrategySingleSource,
		plannedSource("src-1", models.SourceKindDatabase, 1),
	)

	out, err := handler.Execute(context.Background(), &Input{Query: testQuery(), Plan: plan})

	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.True(t, out.Results[0].Success)
}

func TestHandler_Execute_SerialCancellationFailsRemainingSources(t *testing.T) {
	coordinator := &stubCoordinator{}
	handler := newStageHandler(t, coordinator)
	plan := testPlan(models.StrategySequential,
		plannedSource("src-1", models.SourceKindDatabase, 1),
		plannedSource("src-2", models.SourceKindDatabase, 2),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := handler.Execute(ctx, &Input{Query: testQuery(), Plan: plan})

	require.NoError(t, err)
	require.Len(t, out.Results, 2)
	for _, r := range out.Results {
		assert.False(t, r.Success)
		assert.Equal(t, "execution cancelled", r.Error)
	}
	// Nothing actually ran.
	assert.Empty(t, coordinator.callOrder())
}

// ==========================
// Envelope Guarantee Tests
// ==========================

func TestHandler_Execute_UnsupportedKindGetsFailureEnvelope(t *testing.T) {
	handler := NewHandler(LoadConfig(), map[models.SourceKind]Coordinator{
		models.SourceKindDatabase: &stubCoordinator{},
	}, logger.NewTestLogger(t))
	plan := testPlan(models.StrategySequential,
		plannedSource("src-1", models.SourceKindDatabase, 1),
		plannedSource("src-2", models.SourceKindGoogleDocs, 2),
	)

	out, err := handler.Execute(context.Background(), &Input{Query: testQuery(), Plan: plan})

	require.NoError(t, err)
	require.Len(t, out.Results, 2)
	assert.True(t, out.Results[0].Success)
	assert.False(t, out.Results[1].Success)
	assert.Equal(t, string(pipelineerrors.ErrCodeUnsupportedSourceKind), out.Results[1].ErrorCode)
}

func TestHandler_Execute_StampsIdentityAndTiming(t *testing.T) {
	// Coordinator returns a bare envelope; the handler fills in identity,
	// timing, and the confidence default.
	coordinator := &stubCoordinator{
		delay: 5 * time.Millisecond,
		results: map[string]*models.SourceExecutionResult{
			"src-1": {Success: true, Data: []models.Row{{"n": 1}}},
		},
	}
	handler := newStageHandler(t, coordinator)
	plan := testPlan(models.StrategySequential, plannedSource("src-1", models.SourceKindDatabase, 1))

	out, err := handler.Execute(context.Background(), &Input{Query: testQuery(), Plan: plan})

	require.NoError(t, err)
	result := out.Results[0]
	assert.Equal(t, "src-1", result.SourceID)
	assert.Equal(t, "Source src-1", result.SourceName)
	assert.Equal(t, models.SourceKindDatabase, result.Kind)
	assert.GreaterOrEqual(t, result.ExecutionTimeMS, int64(1))
	assert.InDelta(t, 0.8, result.ConfidenceScore, 0.001)
}

func TestHandler_Execute_EmptyPlanIsAnError(t *testing.T) {
	handler := newStageHandler(t, &stubCoordinator{})

	_, err := handler.Execute(context.Background(), &Input{Query: testQuery(), Plan: testPlan(models.StrategySequential)})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyPlan)
}

package dedupe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/triviahound/venue-directory/internal/types"
)

// MockDedupeRepository is a mock implementation of Repository
type MockDedupeRepository struct {
	mock.Mock
}

func (m *MockDedupeRepository) ListCityBuckets(ctx context.Context) ([]uuid.UUID, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockDedupeRepository) ListActiveVenuesByCity(ctx context.Context, cityID uuid.UUID) ([]types.Venue, error) {
	args := m.Called(ctx, cityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Venue), args.Error(1)
}

func (m *MockDedupeRepository) UpsertCandidate(ctx context.Context, cand *types.DuplicateCandidate) (bool, error) {
	args := m.Called(ctx, cand)
	return args.Bool(0), args.Error(1)
}

func (m *MockDedupeRepository) ListPendingCandidates(ctx context.Context, limit int) ([]types.DuplicateCandidate, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.DuplicateCandidate), args.Error(1)
}

// Helper to setup service with mock repository
func setupDedupeServiceTest() (*ServiceImpl, *MockDedupeRepository) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mockRepo := new(MockDedupeRepository)
	service := NewServiceImpl(mockRepo, DefaultPolicy(), logger)
	return service, mockRepo
}

func TestDedupeServiceImpl_Scan(t *testing.T) {
	ctx := context.Background()

	t.Run("near-duplicate pair is upserted with ordered ids", func(t *testing.T) {
		service, mockRepo := setupDedupeServiceTest()
		cityID := uuid.New()
		a := types.Venue{ID: uuid.New(), Name: "The Red Lion", Lat: 51.5, Lng: -0.12, CityID: cityID}
		b := types.Venue{ID: uuid.New(), Name: "Red Lion", Lat: 51.5001, Lng: -0.12, CityID: cityID}

		mockRepo.On("ListCityBuckets", mock.Anything).Return([]uuid.UUID{cityID}, nil).Once()
		mockRepo.On("ListActiveVenuesByCity", mock.Anything, cityID).Return([]types.Venue{a, b}, nil).Once()
		mockRepo.On("UpsertCandidate", mock.Anything, mock.MatchedBy(func(cand *types.DuplicateCandidate) bool {
			first, second := types.OrderPair(a.ID, b.ID)
			return cand.VenueAID == first && cand.VenueBID == second &&
				cand.ConfidenceScore >= 0.5 &&
				cand.Status == types.CandidatePending
		})).Return(true, nil).Once()

		summary, err := service.Scan(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.BucketsScanned)
		assert.Equal(t, 0, summary.BucketsFailed)
		assert.Equal(t, 1, summary.PairsCompared)
		assert.Equal(t, 1, summary.CandidatesUpserted)
		mockRepo.AssertExpectations(t)
	})

	t.Run("pairs below the confidence floor are not persisted", func(t *testing.T) {
		service, mockRepo := setupDedupeServiceTest()
		cityID := uuid.New()
		a := types.Venue{ID: uuid.New(), Name: "The Red Lion", Lat: 51.5, Lng: -0.12}
		b := types.Venue{ID: uuid.New(), Name: "Bingo Palace", Lat: 51.6, Lng: -0.3}

		mockRepo.On("ListCityBuckets", mock.Anything).Return([]uuid.UUID{cityID}, nil).Once()
		mockRepo.On("ListActiveVenuesByCity", mock.Anything, cityID).Return([]types.Venue{a, b}, nil).Once()

		summary, err := service.Scan(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.PairsCompared)
		assert.Equal(t, 0, summary.CandidatesUpserted)
		mockRepo.AssertNotCalled(t, "UpsertCandidate")
	})

	t.Run("failing bucket is skipped, scan continues", func(t *testing.T) {
		service, mockRepo := setupDedupeServiceTest()
		badCity := uuid.New()
		goodCity := uuid.New()
		a := types.Venue{ID: uuid.New(), Name: "Quiz Corner", Lat: 51.5, Lng: -0.12}
		b := types.Venue{ID: uuid.New(), Name: "Quiz Corner", Lat: 51.5, Lng: -0.12}

		mockRepo.On("ListCityBuckets", mock.Anything).Return([]uuid.UUID{badCity, goodCity}, nil).Once()
		mockRepo.On("ListActiveVenuesByCity", mock.Anything, badCity).Return(nil, errors.New("bucket exploded")).Once()
		mockRepo.On("ListActiveVenuesByCity", mock.Anything, goodCity).Return([]types.Venue{a, b}, nil).Once()
		mockRepo.On("UpsertCandidate", mock.Anything, mock.AnythingOfType("*types.DuplicateCandidate")).Return(true, nil).Once()

		summary, err := service.Scan(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, summary.BucketsScanned)
		assert.Equal(t, 1, summary.BucketsFailed)
		assert.Equal(t, 1, summary.CandidatesUpserted)
		mockRepo.AssertExpectations(t)
	})

	t.Run("upsert skipped rows are not counted", func(t *testing.T) {
		service, mockRepo := setupDedupeServiceTest()
		cityID := uuid.New()
		a := types.Venue{ID: uuid.New(), Name: "Quiz Corner", Lat: 51.5, Lng: -0.12}
		b := types.Venue{ID: uuid.New(), Name: "Quiz Corner", Lat: 51.5, Lng: -0.12}

		mockRepo.On("ListCityBuckets", mock.Anything).Return([]uuid.UUID{cityID}, nil).Once()
		mockRepo.On("ListActiveVenuesByCity", mock.Anything, cityID).Return([]types.Venue{a, b}, nil).Once()
		mockRepo.On("UpsertCandidate", mock.Anything, mock.AnythingOfType("*types.DuplicateCandidate")).Return(false, nil).Once()

		summary, err := service.Scan(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.PairsCompared)
		assert.Equal(t, 0, summary.CandidatesUpserted)
		mockRepo.AssertExpectations(t)
	})

	t.Run("bucket listing failure aborts the scan", func(t *testing.T) {
		service, mockRepo := setupDedupeServiceTest()
		mockRepo.On("ListCityBuckets", mock.Anything).Return(nil, errors.New("db down")).Once()

		_, err := service.Scan(ctx)
		require.Error(t, err)
		mockRepo.AssertExpectations(t)
	})
}

// memoryDedupeRepo is a concurrency-safe in-memory Repository used to
// run a scan against a store a merge mutates mid-pass. UpsertCandidate
// mirrors the SQL predicate: only pending rows are written.
type memoryDedupeRepo struct {
	mu      sync.Mutex
	buckets map[uuid.UUID][]types.Venue
	status  map[[2]uuid.UUID]types.CandidateStatus
}

func (r *memoryDedupeRepo) ListCityBuckets(_ context.Context) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(r.buckets))
	for id := range r.buckets {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *memoryDedupeRepo) ListActiveVenuesByCity(_ context.Context, cityID uuid.UUID) ([]types.Venue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	venues := make([]types.Venue, len(r.buckets[cityID]))
	copy(venues, r.buckets[cityID])
	return venues, nil
}

func (r *memoryDedupeRepo) UpsertCandidate(_ context.Context, cand *types.DuplicateCandidate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := [2]uuid.UUID{cand.VenueAID, cand.VenueBID}
	if st, ok := r.status[key]; ok && st != types.CandidatePending {
		return false, nil
	}
	r.status[key] = types.CandidatePending
	return true, nil
}

func (r *memoryDedupeRepo) ListPendingCandidates(_ context.Context, _ int) ([]types.DuplicateCandidate, error) {
	return nil, nil
}

// merge plays the merge manager's part: soft-delete the secondary out
// of its bucket and close the pair row.
func (r *memoryDedupeRepo) merge(cityID, primaryID, secondaryID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.buckets[cityID][:0]
	for _, v := range r.buckets[cityID] {
		if v.ID != secondaryID {
			kept = append(kept, v)
		}
	}
	r.buckets[cityID] = kept
	a, b := types.OrderPair(primaryID, secondaryID)
	r.status[[2]uuid.UUID{a, b}] = types.CandidateMerged
}

func (r *memoryDedupeRepo) statusOf(aID, bID uuid.UUID) types.CandidateStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status[[2]uuid.UUID{aID, bID}]
}

func TestDedupeServiceImpl_Scan_ConcurrentMergeKeepsPairClosed(t *testing.T) {
	// A merge landing mid-scan must not resurrect its pair: either the
	// scan no longer sees the soft-deleted secondary, or its upsert hits
	// the closed row and writes nothing. Meant to run under -race.
	cityID := uuid.New()
	primary := types.Venue{ID: uuid.New(), Name: "The Red Lion", Lat: 51.5, Lng: -0.12}
	secondary := types.Venue{ID: uuid.New(), Name: "Red Lion", Lat: 51.5001, Lng: -0.12}

	repo := &memoryDedupeRepo{
		buckets: map[uuid.UUID][]types.Venue{cityID: {primary, secondary}},
		status:  map[[2]uuid.UUID]types.CandidateStatus{},
	}
	for i := 0; i < 8; i++ {
		other := uuid.New()
		repo.buckets[other] = []types.Venue{
			{ID: uuid.New(), Name: "Quiz Corner", Lat: 53.8, Lng: -1.55},
			{ID: uuid.New(), Name: "The Quiz Corner", Lat: 53.8001, Lng: -1.55},
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := NewServiceImpl(repo, DefaultPolicy(), logger)

	var (
		wg      sync.WaitGroup
		summary types.ScanSummary
		scanErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		summary, scanErr = service.Scan(context.Background())
	}()
	go func() {
		defer wg.Done()
		repo.merge(cityID, primary.ID, secondary.ID)
	}()
	wg.Wait()

	require.NoError(t, scanErr)
	assert.LessOrEqual(t, summary.CandidatesUpserted, summary.PairsCompared)

	aID, bID := types.OrderPair(primary.ID, secondary.ID)
	assert.Equal(t, types.CandidateMerged, repo.statusOf(aID, bID))

	// A follow-up pass sees the shrunken bucket and leaves the closed
	// pair untouched.
	_, err := service.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.CandidateMerged, repo.statusOf(aID, bID))
}

func TestDedupeServiceImpl_ListPendingCandidates(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		service, mockRepo := setupDedupeServiceTest()
		expected := []types.DuplicateCandidate{
			{ID: uuid.New(), ConfidenceScore: 0.95},
			{ID: uuid.New(), ConfidenceScore: 0.75},
		}
		mockRepo.On("ListPendingCandidates", ctx, 100).Return(expected, nil).Once()

		cands, err := service.ListPendingCandidates(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, expected, cands)
		mockRepo.AssertExpectations(t)
	})

	t.Run("repository error", func(t *testing.T) {
		service, mockRepo := setupDedupeServiceTest()
		mockRepo.On("ListPendingCandidates", ctx, 10).Return(nil, errors.New("db error")).Once()

		_, err := service.ListPendingCandidates(ctx, 10)
		require.Error(t, err)
		mockRepo.AssertExpectations(t)
	})
}

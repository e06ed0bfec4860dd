package governance

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminohq/beacon/internal/beaconerr"
	"github.com/luminohq/beacon/internal/ruleengine"
	"github.com/luminohq/beacon/internal/store"
)

// fakeStore is an in-memory durable store implementing both the read and
// write contracts. Writes inside InTx apply immediately; the rollback path
// is exercised by txFailAfter.
type fakeStore struct {
	mu     sync.Mutex
	nextID int64
	defs   map[string]*ruleengine.FlagDefinition

	inserts     int
	updates     int
	orphanMarks int
	upserts     int
	audits      []store.AuditEntry
	txBeginErr  error
}

func newFakeStore(defs ...*ruleengine.FlagDefinition) *fakeStore {
	f := &fakeStore{defs: map[string]*ruleengine.FlagDefinition{}, nextID: 100}
	for _, def := range defs {
		f.defs[def.Key] = def
	}
	return f
}

func (f *fakeStore) LoadAllFlagDefinitions(context.Context) ([]*ruleengine.FlagDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*ruleengine.FlagDefinition, 0, len(f.defs))
	for _, def := range f.defs {
		copied := *def
		copied.Overrides = append([]ruleengine.Override(nil), def.Overrides...)
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeStore) LoadAllConfigEntries(context.Context) ([]*store.ConfigEntry, error) {
	return nil, nil
}

func (f *fakeStore) FindFlagByKey(_ context.Context, key string) (*ruleengine.FlagDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	def, ok := f.defs[key]
	if !ok {
		return nil, beaconerr.Newf(beaconerr.KindNotFound, "flag %q not found", key)
	}
	return def, nil
}

func (f *fakeStore) InTx(ctx context.Context, fn func(ctx context.Context, tx store.WriteTx) error) error {
	if f.txBeginErr != nil {
		return f.txBeginErr
	}
	return fn(ctx, &fakeTx{store: f})
}

// writeCount sums all mutations, audits included.
func (f *fakeStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inserts + f.updates + f.orphanMarks + f.upserts + len(f.audits)
}

type fakeTx struct {
	store *fakeStore
}

func (t *fakeTx) InsertFlag(_ context.Context, def *ruleengine.FlagDefinition) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.defs[def.Key]; exists {
		return beaconerr.Newf(beaconerr.KindConflict, "flag with key %q already exists", def.Key)
	}
	s.nextID++
	def.ID = s.nextID
	copied := *def
	s.defs[def.Key] = &copied
	s.inserts++
	return nil
}

func (t *fakeTx) UpdateFlag(_ context.Context, id int64, def *ruleengine.FlagDefinition) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, stored := range s.defs {
		if stored.ID == id {
			overrides := stored.Overrides
			copied := *def
			copied.ID = id
			copied.Overrides = overrides
			s.defs[key] = &copied
			s.updates++
			return nil
		}
	}
	return beaconerr.Newf(beaconerr.KindNotFound, "flag id %d not found", id)
}

func (t *fakeTx) MarkOrphaned(_ context.Context, id int64) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stored := range s.defs {
		if stored.ID == id {
			stored.Orphaned = true
			s.orphanMarks++
			return nil
		}
	}
	return beaconerr.Newf(beaconerr.KindNotFound, "flag id %d not found", id)
}

func (t *fakeTx) UpsertOverride(_ context.Context, flagID int64, ov ruleengine.Override) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stored := range s.defs {
		if stored.ID != flagID {
			continue
		}
		s.upserts++
		for i, existing := range stored.Overrides {
			if existing.TenantID == ov.TenantID && existing.Environment == ov.Environment {
				stored.Overrides[i] = ov
				return nil
			}
		}
		stored.Overrides = append(stored.Overrides, ov)
		return nil
	}
	return beaconerr.Newf(beaconerr.KindNotFound, "flag id %d not found", flagID)
}

func (t *fakeTx) RemoveOverride(_ context.Context, flagID int64, tenantID, environment string) error {
	return nil
}

func (t *fakeTx) RecordAudit(_ context.Context, entry store.AuditEntry) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, entry)
	return nil
}

type fakeRefresher struct {
	calls int
	err   error
}

func (f *fakeRefresher) ForceRefresh(context.Context) error {
	f.calls++
	return f.err
}

func manifestWith(flags ...ManifestFlag) *Manifest {
	return &Manifest{Flags: flags}
}

func TestParseManifest(t *testing.T) {
	t.Parallel()

	t.Run("valid yaml", func(t *testing.T) {
		doc := []byte(`
flags:
  - key: checkout.v2
    name: New checkout
    enabled: true
    strategy: percentage
    rollout_percentage: 45
    environments: [production, staging]
    tenant_defaults:
      - tenant_id: acme
        state: forced_on
`)
		m, err := ParseManifest(doc)
		require.NoError(t, err)
		require.Len(t, m.Flags, 1)
		assert.Equal(t, "checkout.v2", m.Flags[0].Key)
		assert.Equal(t, 45, m.Flags[0].RolloutPercentage)
		require.Len(t, m.Flags[0].TenantDefaults, 1)
		assert.Equal(t, "acme", m.Flags[0].TenantDefaults[0].TenantID)
	})

	t.Run("malformed document", func(t *testing.T) {
		_, err := ParseManifest([]byte("flags: [qu{o"))
		require.Error(t, err)
		assert.Equal(t, beaconerr.KindValidation, beaconerr.KindOf(err))
	})
}

func TestSyncValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		flag ManifestFlag
	}{
		{"missing key", ManifestFlag{Name: "no key"}},
		{"unknown strategy", ManifestFlag{Key: "f", Strategy: "gradual"}},
		{"percentage out of range", ManifestFlag{Key: "f", RolloutPercentage: 140}},
		{"tenant default without tenant id", ManifestFlag{
			Key:            "f",
			TenantDefaults: []ManifestTenantDefault{{State: ruleengine.OverrideForcedOn}},
		}},
		{"tenant default resolving to inherited", ManifestFlag{
			Key:            "f",
			TenantDefaults: []ManifestTenantDefault{{TenantID: "t", State: ruleengine.OverrideInherited}},
		}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			flagStore := newFakeStore()
			engine := NewEngine(flagStore, flagStore, nil, nil)

			_, err := engine.Sync(context.Background(), manifestWith(tc.flag), "tester", false)
			require.Error(t, err)
			assert.Equal(t, beaconerr.KindValidation, beaconerr.KindOf(err))
			assert.Zero(t, flagStore.writeCount(), "validation failures must not write")
		})
	}
}

func TestSyncCreate(t *testing.T) {
	t.Parallel()

	flagStore := newFakeStore()
	refresher := &fakeRefresher{}
	engine := NewEngine(flagStore, flagStore, refresher, nil)

	manifest := manifestWith(ManifestFlag{
		Key:     "checkout.v2",
		Enabled: true,
		TenantDefaults: []ManifestTenantDefault{
			{TenantID: "acme", State: ruleengine.OverrideForcedOn},
		},
	})

	summary, err := engine.Sync(context.Background(), manifest, "tester", false)
	require.NoError(t, err)
	assert.Equal(t, Summary{Created: 1, OverridesCreated: 1}, *summary)

	stored := flagStore.defs["checkout.v2"]
	require.NotNil(t, stored)
	assert.Equal(t, ruleengine.StrategyBoolean, stored.Strategy, "strategy defaults to boolean")
	assert.Equal(t, "checkout.v2", stored.Name, "name defaults to the key")
	require.Len(t, stored.Overrides, 1)
	assert.Equal(t, "all", stored.Overrides[0].Environment, "environment defaults to the wildcard")
	assert.Equal(t, "true", stored.Overrides[0].Metadata["managed"])

	require.Len(t, flagStore.audits, 2)
	assert.Equal(t, store.ChangeFlagCreated, flagStore.audits[0].ChangeType)
	assert.Equal(t, store.ChangeOverrideApplied, flagStore.audits[1].ChangeType)
	assert.Equal(t, "tester", flagStore.audits[0].Actor)

	assert.Equal(t, 1, refresher.calls, "successful sync forces a cache refresh")
}

func TestSyncIdempotence(t *testing.T) {
	t.Parallel()

	manifest := manifestWith(ManifestFlag{
		Key:               "search.reranker",
		Enabled:           true,
		Strategy:          ruleengine.StrategyPercentage,
		RolloutPercentage: 30,
		Environments:      []string{"production"},
		TenantDefaults: []ManifestTenantDefault{
			{TenantID: "acme", State: ruleengine.OverrideForcedOff},
		},
	})

	flagStore := newFakeStore()
	engine := NewEngine(flagStore, flagStore, nil, nil)

	_, err := engine.Sync(context.Background(), manifest, "tester", false)
	require.NoError(t, err)
	writesAfterFirst := flagStore.writeCount()

	summary, err := engine.Sync(context.Background(), manifest, "tester", false)
	require.NoError(t, err)
	assert.Equal(t, Summary{Unchanged: 1}, *summary)
	assert.Equal(t, writesAfterFirst, flagStore.writeCount(), "a no-op sync must not write")
}

func TestSyncDryRun(t *testing.T) {
	t.Parallel()

	existing := &ruleengine.FlagDefinition{
		ID: 1, Key: "exports.async", Name: "exports.async", Enabled: false,
		Strategy: ruleengine.StrategyBoolean, Metadata: map[string]string{},
	}
	manifest := manifestWith(
		ManifestFlag{Key: "exports.async", Enabled: true},
		ManifestFlag{Key: "brand.new", Enabled: true},
	)

	flagStore := newFakeStore(existing)
	refresher := &fakeRefresher{}
	engine := NewEngine(flagStore, flagStore, refresher, nil)

	preview, err := engine.Sync(context.Background(), manifest, "tester", true)
	require.NoError(t, err)
	assert.Zero(t, flagStore.writeCount(), "dry run must not write")
	assert.Zero(t, refresher.calls, "dry run must not refresh")

	applied, err := engine.Sync(context.Background(), manifest, "tester", false)
	require.NoError(t, err)
	assert.Equal(t, preview, applied, "dry run and real run must report the same diff")
	assert.Equal(t, Summary{Created: 1, Updated: 1}, *applied)
}

func TestSyncUpdateAndAudit(t *testing.T) {
	t.Parallel()

	existing := &ruleengine.FlagDefinition{
		ID: 9, Key: "checkout.v2", Name: "checkout.v2", Enabled: true,
		Strategy: ruleengine.StrategyPercentage, RolloutPercentage: 20,
		Metadata: map[string]string{},
	}
	flagStore := newFakeStore(existing)
	engine := NewEngine(flagStore, flagStore, nil, nil)

	manifest := manifestWith(ManifestFlag{
		Key: "checkout.v2", Enabled: true,
		Strategy: ruleengine.StrategyPercentage, RolloutPercentage: 45,
	})

	summary, err := engine.Sync(context.Background(), manifest, "tester", false)
	require.NoError(t, err)
	assert.Equal(t, Summary{Updated: 1}, *summary)
	assert.Equal(t, 45, flagStore.defs["checkout.v2"].RolloutPercentage)

	require.Len(t, flagStore.audits, 1)
	audit := flagStore.audits[0]
	assert.Equal(t, store.ChangeFlagUpdated, audit.ChangeType)
	assert.NotNil(t, audit.Before)
	assert.NotNil(t, audit.After)
}

func TestSyncOrphans(t *testing.T) {
	t.Parallel()

	abandoned := &ruleengine.FlagDefinition{
		ID: 4, Key: "legacy.widget", Name: "legacy.widget", Enabled: true,
		Strategy: ruleengine.StrategyBoolean, Metadata: map[string]string{},
	}
	flagStore := newFakeStore(abandoned)
	engine := NewEngine(flagStore, flagStore, nil, nil)

	summary, err := engine.Sync(context.Background(), manifestWith(), "tester", false)
	require.NoError(t, err)
	assert.Equal(t, Summary{Orphaned: 1}, *summary)
	assert.True(t, flagStore.defs["legacy.widget"].Orphaned, "orphans are marked, never deleted")
	assert.Equal(t, 1, flagStore.orphanMarks)

	// A second run still reports the orphan but does not rewrite it.
	summary, err = engine.Sync(context.Background(), manifestWith(), "tester", false)
	require.NoError(t, err)
	assert.Equal(t, Summary{Orphaned: 1}, *summary)
	assert.Equal(t, 1, flagStore.orphanMarks)
}

func TestSyncOverrideReconciliation(t *testing.T) {
	t.Parallel()

	existing := &ruleengine.FlagDefinition{
		ID: 2, Key: "billing.v3", Name: "billing.v3", Enabled: true,
		Strategy: ruleengine.StrategyBoolean, Metadata: map[string]string{},
		Overrides: []ruleengine.Override{
			{TenantID: "acme", Environment: "all", State: ruleengine.OverrideForcedOn,
				Metadata: map[string]string{"managed": "true"}},
		},
	}
	flagStore := newFakeStore(existing)
	engine := NewEngine(flagStore, flagStore, nil, nil)

	t.Run("matching default is untouched", func(t *testing.T) {
		manifest := manifestWith(ManifestFlag{
			Key: "billing.v3", Enabled: true,
			TenantDefaults: []ManifestTenantDefault{
				{TenantID: "acme", State: ruleengine.OverrideForcedOn},
			},
		})
		summary, err := engine.Sync(context.Background(), manifest, "tester", false)
		require.NoError(t, err)
		assert.Equal(t, Summary{Unchanged: 1}, *summary)
		assert.Zero(t, flagStore.upserts)
	})

	t.Run("state flip is an override update", func(t *testing.T) {
		manifest := manifestWith(ManifestFlag{
			Key: "billing.v3", Enabled: true,
			TenantDefaults: []ManifestTenantDefault{
				{TenantID: "acme", State: ruleengine.OverrideForcedOff},
			},
		})
		summary, err := engine.Sync(context.Background(), manifest, "tester", false)
		require.NoError(t, err)
		assert.Equal(t, Summary{Unchanged: 1, OverridesUpdated: 1}, *summary)
		assert.Equal(t, 1, flagStore.upserts)
		assert.Equal(t, ruleengine.OverrideForcedOff, flagStore.defs["billing.v3"].Overrides[0].State)
	})
}

func TestSyncRefreshFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	flagStore := newFakeStore()
	refresher := &fakeRefresher{err: errors.New("redis down")}
	engine := NewEngine(flagStore, flagStore, refresher, nil)

	summary, err := engine.Sync(context.Background(),
		manifestWith(ManifestFlag{Key: "f", Enabled: true}), "tester", false)
	require.NoError(t, err, "a refresh failure must not fail a committed sync")
	assert.Equal(t, Summary{Created: 1}, *summary)
	assert.Equal(t, 1, refresher.calls)
}

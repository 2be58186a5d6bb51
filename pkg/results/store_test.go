package results

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perflab/labdash/pkg/config"
)

// newTestStore starts a store over a throwaway SQLite database.
func newTestStore(t *testing.T) Store {
	t.Helper()

	cfg := &config.APIDatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{
			Path: filepath.Join(t.TempDir(), "results.db"),
		},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() {
		require.NoError(t, s.Stop())
	})

	return s
}

func mustEnv(t *testing.T, s Store, group string, liveSince *time.Time) *Environment {
	t.Helper()

	env := &Environment{
		InventoryID: "IOL-1",
		OwnerGroup:  group,
		NICMake:     "acme",
		NICModel:    "x1000",
		LiveSince:   liveSince,
	}
	require.NoError(t, s.CreateEnvironment(context.Background(), env))

	return env
}

func mustMeasurement(t *testing.T, s Store, envID uint) *Measurement {
	t.Helper()

	m := &Measurement{
		Name:          "throughput",
		Unit:          "Mpps",
		EnvironmentID: envID,
		Parameters: []Parameter{
			{Name: "frame_size", Unit: "bytes", Value: 64},
		},
	}
	require.NoError(t, s.CreateMeasurement(context.Background(), m))

	return m
}

func mustTarball(t *testing.T, s Store, patchSetID *uint, date time.Time) *Tarball {
	t.Helper()

	tb := &Tarball{
		CommitID:   "0123abcd",
		TarballURL: "https://build.example.com/dpdk.tar.gz",
		PatchSetID: patchSetID,
		Date:       &date,
	}
	require.NoError(t, s.CreateTarball(context.Background(), tb))

	return tb
}

func mustRun(
	t *testing.T, s Store,
	envID, tarballID uint, ts time.Time, results []TestResult,
) *TestRun {
	t.Helper()

	run := &TestRun{
		Timestamp:     ts,
		TarballID:     tarballID,
		EnvironmentID: envID,
		Results:       results,
	}
	require.NoError(t, s.CreateTestRun(context.Background(), run))

	return run
}

func TestCreateTestRun_RejectsForeignMeasurement(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	env1 := mustEnv(t, s, "acme", nil)
	env2 := mustEnv(t, s, "acme", nil)
	foreign := mustMeasurement(t, s, env2.ID)

	tb := mustTarball(t, s, nil, time.Now())

	run := &TestRun{
		Timestamp:     time.Now(),
		TarballID:     tb.ID,
		EnvironmentID: env1.ID,
		Results: []TestResult{
			{Result: ResultPass, MeasurementID: foreign.ID},
		},
	}

	err := s.CreateTestRun(ctx, run)
	require.ErrorIs(t, err, ErrEnvironmentMismatch)

	// The transaction must not have persisted anything.
	hasRuns, err := s.TarballHasRuns(ctx, tb.ID)
	require.NoError(t, err)
	assert.False(t, hasRuns)
}

func TestCreateTestRun_RevokesEnvironmentWriteGrants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	env := mustEnv(t, s, "acme", nil)
	m := mustMeasurement(t, s, env.ID)
	tb := mustTarball(t, s, nil, time.Now())

	member := &Principal{Username: "alice", Groups: []string{"acme"}}

	ok, err := s.Allowed(ctx, member, ActionChange, ObjectEnvironment, env.ID)
	require.NoError(t, err)
	assert.True(t, ok, "owner group should start with change access")

	mustRun(t, s, env.ID, tb.ID, time.Now(), []TestResult{
		{Result: ResultPass, MeasurementID: m.ID},
	})

	ok, err = s.Allowed(ctx, member, ActionChange, ObjectEnvironment, env.ID)
	require.NoError(t, err)
	assert.False(t, ok, "recording results must freeze the environment")

	// View access survives.
	ok, err = s.Allowed(ctx, member, ActionView, ObjectEnvironment, env.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAllIDs_LineageOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustEnv(t, s, "acme", nil)

	b, err := s.CloneEnvironment(ctx, a.ID)
	require.NoError(t, err)

	c, err := s.CloneEnvironment(ctx, b.ID)
	require.NoError(t, err)

	ids, err := s.AllIDs(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{a.ID, b.ID, c.ID}, ids)

	// The middle generation only reports its own ancestry.
	ids, err = s.AllIDs(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{a.ID, b.ID}, ids)
}

func TestCloneEnvironment_SingleSuccessor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	env := mustEnv(t, s, "acme", nil)

	_, err := s.CloneEnvironment(ctx, env.ID)
	require.NoError(t, err)

	_, err = s.CloneEnvironment(ctx, env.ID)
	require.ErrorIs(t, err, ErrHasSuccessor)
}

func TestCloneEnvironment_CopiesMeasurementsAndPolicy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	env := mustEnv(t, s, "acme", nil)
	mustMeasurement(t, s, env.ID)
	mustMeasurement(t, s, env.ID)

	require.NoError(t, s.CreateContactPolicy(ctx, &ContactPolicy{
		EmailOwner:    true,
		EnvironmentID: env.ID,
	}))

	require.NoError(t, s.CreateSubscription(ctx,
		&Principal{Username: "alice", Groups: []string{"acme"}},
		&Subscription{Username: "alice", EnvironmentID: env.ID, How: EmailTo},
	))

	clone, err := s.CloneEnvironment(ctx, env.ID)
	require.NoError(t, err)
	require.NotNil(t, clone.PredecessorID)
	assert.Equal(t, env.ID, *clone.PredecessorID)
	assert.NotEqual(t, env.UUID, clone.UUID)

	// Measurements and their parameters are copied, not shared.
	cloned, err := s.ListMeasurements(ctx, clone.ID)
	require.NoError(t, err)
	require.Len(t, cloned, 2)
	require.Len(t, cloned[0].Parameters, 1)
	assert.Equal(t, "frame_size", cloned[0].Parameters[0].Name)

	original, err := s.ListMeasurements(ctx, env.ID)
	require.NoError(t, err)
	require.Len(t, original, 2)
	assert.NotEqual(t, original[0].ID, cloned[0].ID)

	// The contact policy follows the clone.
	cp, err := s.GetContactPolicy(ctx, clone.ID)
	require.NoError(t, err)
	assert.True(t, cp.EmailOwner)

	// Subscriptions are re-parented onto the successor.
	subs, err := s.ListSubscriptions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, clone.ID, subs[0].EnvironmentID)
}

func TestAllRuns_SpansLineage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	env := mustEnv(t, s, "acme", nil)
	m := mustMeasurement(t, s, env.ID)
	tb := mustTarball(t, s, nil, time.Now())

	early := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mustRun(t, s, env.ID, tb.ID, early, []TestResult{
		{Result: ResultPass, MeasurementID: m.ID},
	})

	clone, err := s.CloneEnvironment(ctx, env.ID)
	require.NoError(t, err)

	cloneMeasurements, err := s.ListMeasurements(ctx, clone.ID)
	require.NoError(t, err)
	require.Len(t, cloneMeasurements, 1)

	late := early.Add(48 * time.Hour)
	mustRun(t, s, clone.ID, tb.ID, late, []TestResult{
		{Result: ResultFail, MeasurementID: cloneMeasurements[0].ID},
	})

	runs, err := s.AllRuns(ctx, clone.ID)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].Timestamp.Before(runs[1].Timestamp))

	latest, err := s.LatestRunInLineage(ctx, clone.ID, tb.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, clone.ID, latest.EnvironmentID)
}

func TestActiveEnvironments_ExcludesSupersededAndFuture(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := mustEnv(t, s, "acme", nil)

	successor, err := s.CloneEnvironment(ctx, old.ID)
	require.NoError(t, err)

	asOf := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	future := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	futureEnv := mustEnv(t, s, "acme", nil)
	futureEnv.Date = &future
	require.NoError(t, s.UpdateEnvironment(ctx, futureEnv))

	active, err := s.ActiveEnvironments(ctx, &asOf)
	require.NoError(t, err)

	ids := make([]uint, 0, len(active))
	for i := range active {
		ids = append(ids, active[i].ID)
	}

	assert.Contains(t, ids, successor.ID)
	assert.NotContains(t, ids, old.ID, "superseded environments are not active")
	assert.NotContains(t, ids, futureEnv.ID, "future-dated environments are not active")
}

func TestSubscription_RequiresViewPermission(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	env := mustEnv(t, s, "acme", nil)

	outsider := &Principal{Username: "mallory", Groups: []string{"other"}}
	err := s.CreateSubscription(ctx, outsider, &Subscription{
		Username:      "mallory",
		EnvironmentID: env.ID,
		How:           EmailTo,
	})
	require.ErrorIs(t, err, ErrSubscriptionForbidden)

	// Making the environment public opens subscriptions to everyone.
	require.NoError(t, s.SetPublic(ctx, env.ID))

	err = s.CreateSubscription(ctx, outsider, &Subscription{
		Username:      "mallory",
		EnvironmentID: env.ID,
		How:           EmailCC,
	})
	require.NoError(t, err)
}

package results

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowed_DeniesByDefault(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	env := mustEnv(t, s, "acme", nil)

	tests := []struct {
		name      string
		principal *Principal
		expected  bool
	}{
		{name: "anonymous", principal: nil, expected: false},
		{
			name:      "authenticated outsider",
			principal: &Principal{Username: "bob", Groups: []string{"other"}},
			expected:  false,
		},
		{
			name:      "owner group member",
			principal: &Principal{Username: "alice", Groups: []string{"acme"}},
			expected:  true,
		},
		{
			name:      "staff bypasses grants",
			principal: &Principal{Username: "root", Staff: true},
			expected:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := s.Allowed(
				ctx, tt.principal, ActionView, ObjectEnvironment, env.ID,
			)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
		})
	}
}

func TestSetPublic_CoversLineageAndDerivedObjects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	env := mustEnv(t, s, "acme", nil)
	m := mustMeasurement(t, s, env.ID)
	tb := mustTarball(t, s, nil, time.Now())
	run := mustRun(t, s, env.ID, tb.ID, time.Now(), []TestResult{
		{Result: ResultPass, MeasurementID: m.ID},
	})

	clone, err := s.CloneEnvironment(ctx, env.ID)
	require.NoError(t, err)

	// Publishing the successor reaches back through the lineage.
	require.NoError(t, s.SetPublic(ctx, clone.ID))

	for _, check := range []struct {
		objectType string
		objectID   uint
	}{
		{ObjectEnvironment, clone.ID},
		{ObjectEnvironment, env.ID},
		{ObjectMeasurement, m.ID},
		{ObjectTestRun, run.ID},
		{ObjectTestResult, run.Results[0].ID},
	} {
		ok, err := s.Allowed(ctx, nil, ActionView, check.objectType, check.objectID)
		require.NoError(t, err)
		assert.True(t, ok, "%s %d should be publicly viewable",
			check.objectType, check.objectID)
	}

	// And revoking removes it everywhere again.
	require.NoError(t, s.SetPrivate(ctx, clone.ID))

	ok, err := s.Allowed(ctx, nil, ActionView, ObjectEnvironment, env.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Allowed(ctx, nil, ActionView, ObjectTestRun, run.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPublicEnvironment_PropagatesToNewObjects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	env := mustEnv(t, s, "acme", nil)
	require.NoError(t, s.SetPublic(ctx, env.ID))

	// Objects created after publication inherit public view.
	m := mustMeasurement(t, s, env.ID)

	ok, err := s.Allowed(ctx, nil, ActionView, ObjectMeasurement, m.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	tb := mustTarball(t, s, nil, time.Now())
	run := mustRun(t, s, env.ID, tb.ID, time.Now(), []TestResult{
		{Result: ResultPass, MeasurementID: m.ID},
	})

	ok, err = s.Allowed(ctx, nil, ActionView, ObjectTestRun, run.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Allowed(ctx, nil, ActionView, ObjectTestResult, run.Results[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOwnerOf_ResolvesThroughParents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	env := mustEnv(t, s, "acme", nil)
	m := mustMeasurement(t, s, env.ID)
	tb := mustTarball(t, s, nil, time.Now())
	run := mustRun(t, s, env.ID, tb.ID, time.Now(), []TestResult{
		{Result: ResultPass, MeasurementID: m.ID},
	})

	for _, check := range []struct {
		objectType string
		objectID   uint
	}{
		{ObjectEnvironment, env.ID},
		{ObjectMeasurement, m.ID},
		{ObjectTestRun, run.ID},
		{ObjectTestResult, run.Results[0].ID},
	} {
		owner, err := s.OwnerOf(ctx, check.objectType, check.objectID)
		require.NoError(t, err)
		assert.Equal(t, "acme", owner, check.objectType)
	}
}

func TestVisibleEnvironmentIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	acmeEnv := mustEnv(t, s, "acme", nil)
	otherEnv := mustEnv(t, s, "other", nil)
	publicEnv := mustEnv(t, s, "third", nil)
	require.NoError(t, s.SetPublic(ctx, publicEnv.ID))

	alice := &Principal{Username: "alice", Groups: []string{"acme"}}
	ids, err := s.VisibleEnvironmentIDs(ctx, alice)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{acmeEnv.ID, publicEnv.ID}, ids)

	// Anonymous sees only the public one.
	ids, err = s.VisibleEnvironmentIDs(ctx, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{publicEnv.ID}, ids)

	// Staff sees everything.
	ids, err = s.VisibleEnvironmentIDs(ctx, &Principal{Username: "root", Staff: true})
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]uint{acmeEnv.ID, otherEnv.ID, publicEnv.ID}, ids)
}

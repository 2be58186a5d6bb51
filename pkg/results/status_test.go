package results

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tarballDate = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	wentLive    = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	runTime     = time.Date(2026, 5, 10, 14, 0, 0, 0, time.UTC)
)

func TestTarballStatus_NoRuns(t *testing.T) {
	s := newTestStore(t)

	mustEnv(t, s, "acme", &wentLive)
	tb := mustTarball(t, s, nil, tarballDate)

	status, err := TarballStatus(context.Background(), s, tb)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, status)
}

func TestTarballStatus_AllPass(t *testing.T) {
	s := newTestStore(t)

	env := mustEnv(t, s, "acme", &wentLive)
	m := mustMeasurement(t, s, env.ID)
	tb := mustTarball(t, s, nil, tarballDate)

	mustRun(t, s, env.ID, tb.ID, runTime, []TestResult{
		{Result: ResultPass, MeasurementID: m.ID},
		{Result: ResultPass, MeasurementID: m.ID},
	})

	status, err := TarballStatus(context.Background(), s, tb)
	require.NoError(t, err)
	assert.Equal(t, StatusPass, status)
}

func TestTarballStatus_MissingCoverageBeatsFailure(t *testing.T) {
	s := newTestStore(t)

	covered := mustEnv(t, s, "acme", &wentLive)
	m := mustMeasurement(t, s, covered.ID)
	mustEnv(t, s, "acme", &wentLive) // never runs this tarball

	tb := mustTarball(t, s, nil, tarballDate)

	mustRun(t, s, covered.ID, tb.ID, runTime, []TestResult{
		{Result: ResultFail, MeasurementID: m.ID},
	})

	// Even with a failing run on the covered environment, the absent run
	// on the other environment dominates.
	status, err := TarballStatus(context.Background(), s, tb)
	require.NoError(t, err)
	assert.Equal(t, StatusIncomplete, status)
}

func TestTarballStatus_FailureOnLiveEnvironment(t *testing.T) {
	s := newTestStore(t)

	env := mustEnv(t, s, "acme", &wentLive)
	m := mustMeasurement(t, s, env.ID)
	tb := mustTarball(t, s, nil, tarballDate)

	mustRun(t, s, env.ID, tb.ID, runTime, []TestResult{
		{Result: ResultPass, MeasurementID: m.ID},
		{Result: ResultFail, MeasurementID: m.ID},
	})

	status, err := TarballStatus(context.Background(), s, tb)
	require.NoError(t, err)
	assert.Equal(t, StatusPossibleRegression, status)
}

func TestTarballStatus_NotLiveNeverRegresses(t *testing.T) {
	s := newTestStore(t)

	env := mustEnv(t, s, "acme", nil) // no live_since
	m := mustMeasurement(t, s, env.ID)
	tb := mustTarball(t, s, nil, tarballDate)

	mustRun(t, s, env.ID, tb.ID, runTime, []TestResult{
		{Result: ResultFail, MeasurementID: m.ID},
	})

	status, err := TarballStatus(context.Background(), s, tb)
	require.NoError(t, err)
	assert.Equal(t, StatusPass, status)
}

func TestTarballStatus_RunBeforeLiveSinceIgnored(t *testing.T) {
	s := newTestStore(t)

	liveLater := runTime.Add(24 * time.Hour)
	env := mustEnv(t, s, "acme", &liveLater)
	m := mustMeasurement(t, s, env.ID)
	tb := mustTarball(t, s, nil, tarballDate)

	mustRun(t, s, env.ID, tb.ID, runTime, []TestResult{
		{Result: ResultFail, MeasurementID: m.ID},
	})

	status, err := TarballStatus(context.Background(), s, tb)
	require.NoError(t, err)
	assert.Equal(t, StatusPass, status)
}

func TestTarballStatus_FutureEnvironmentExcluded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	env := mustEnv(t, s, "acme", &wentLive)
	m := mustMeasurement(t, s, env.ID)

	// Commissioned after the tarball's build date, so its lack of runs
	// must not count against the tarball.
	afterBuild := tarballDate.Add(72 * time.Hour)
	lateEnv := mustEnv(t, s, "acme", &afterBuild)
	lateEnv.Date = &afterBuild
	require.NoError(t, s.UpdateEnvironment(ctx, lateEnv))

	tb := mustTarball(t, s, nil, tarballDate)

	mustRun(t, s, env.ID, tb.ID, runTime, []TestResult{
		{Result: ResultPass, MeasurementID: m.ID},
	})

	status, err := TarballStatus(ctx, s, tb)
	require.NoError(t, err)
	assert.Equal(t, StatusPass, status)
}

func TestPatchSetStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("apply error", func(t *testing.T) {
		s := newTestStore(t)

		ps := &PatchSet{ApplyError: true, PatchworkActive: true}
		require.NoError(t, s.CreatePatchSet(ctx, ps))

		status, err := PatchSetStatus(ctx, s, ps)
		require.NoError(t, err)
		assert.Equal(t, StatusApplyError, status)
	})

	t.Run("build error", func(t *testing.T) {
		s := newTestStore(t)

		ps := &PatchSet{BuildError: true, PatchworkActive: true}
		require.NoError(t, s.CreatePatchSet(ctx, ps))

		status, err := PatchSetStatus(ctx, s, ps)
		require.NoError(t, err)
		assert.Equal(t, StatusBuildError, status)
	})

	t.Run("no tarballs yet", func(t *testing.T) {
		s := newTestStore(t)

		ps := &PatchSet{PatchworkActive: true}
		require.NoError(t, s.CreatePatchSet(ctx, ps))

		status, err := PatchSetStatus(ctx, s, ps)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, status)
	})

	t.Run("inactive series without tarballs", func(t *testing.T) {
		s := newTestStore(t)

		ps := &PatchSet{PatchworkActive: false}
		require.NoError(t, s.CreatePatchSet(ctx, ps))

		status, err := PatchSetStatus(ctx, s, ps)
		require.NoError(t, err)
		assert.Equal(t, StatusNotApplicable, status)
	})

	t.Run("delegates to latest tarball", func(t *testing.T) {
		s := newTestStore(t)

		ps := &PatchSet{PatchworkActive: true}
		require.NoError(t, s.CreatePatchSet(ctx, ps))

		env := mustEnv(t, s, "acme", &wentLive)
		m := mustMeasurement(t, s, env.ID)

		// An older tarball that regressed, superseded by a newer one
		// that has no results yet. The newest tarball wins.
		old := mustTarball(t, s, &ps.ID, tarballDate)
		mustRun(t, s, env.ID, old.ID, runTime, []TestResult{
			{Result: ResultFail, MeasurementID: m.ID},
		})

		mustTarball(t, s, &ps.ID, tarballDate.Add(24*time.Hour))

		status, err := PatchSetStatus(ctx, s, ps)
		require.NoError(t, err)
		assert.Equal(t, StatusWaiting, status)
	})
}

func TestTarballSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	passEnv := mustEnv(t, s, "acme", &wentLive)
	passM := mustMeasurement(t, s, passEnv.ID)

	failEnv := mustEnv(t, s, "acme", &wentLive)
	failM := mustMeasurement(t, s, failEnv.ID)

	missingEnv := mustEnv(t, s, "acme", &wentLive)
	_ = missingEnv

	indetEnv := mustEnv(t, s, "acme", &wentLive)
	indetM := mustMeasurement(t, s, indetEnv.ID)

	// No live_since: excluded from the summary entirely.
	darkEnv := mustEnv(t, s, "acme", nil)
	darkM := mustMeasurement(t, s, darkEnv.ID)

	tb := mustTarball(t, s, nil, tarballDate)

	mustRun(t, s, passEnv.ID, tb.ID, runTime, []TestResult{
		{Result: ResultPass, MeasurementID: passM.ID},
	})
	mustRun(t, s, failEnv.ID, tb.ID, runTime, []TestResult{
		{Result: ResultPass, MeasurementID: failM.ID},
		{Result: ResultFail, MeasurementID: failM.ID},
	})
	mustRun(t, s, indetEnv.ID, tb.ID, runTime, []TestResult{
		{Result: ResultNotTested, MeasurementID: indetM.ID},
	})
	mustRun(t, s, darkEnv.ID, tb.ID, runTime, []TestResult{
		{Result: ResultFail, MeasurementID: darkM.ID},
	})

	sum, err := TarballSummary(ctx, s, tb)
	require.NoError(t, err)
	assert.Equal(t, Summary{
		Passed:        1,
		Failed:        1,
		Incomplete:    1,
		Indeterminate: 1,
	}, sum)
}

func TestStatusDisplay(t *testing.T) {
	tests := []struct {
		status string
		class  string
	}{
		{StatusPass, "success"},
		{StatusPossibleRegression, "danger"},
		{StatusApplyError, "warning"},
		{StatusBuildError, "warning"},
		{StatusIncomplete, "warning"},
		{StatusWaiting, "primary"},
		{StatusIndeterminate, "primary"},
		{StatusPending, "secondary"},
		{StatusNotApplicable, "secondary"},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			d := StatusDisplay(tt.status)
			assert.Equal(t, tt.class, d.Class)
			assert.NotEmpty(t, d.Tooltip)
		})
	}

	// Unknown statuses degrade to a warning with the raw value shown.
	d := StatusDisplay("Exploded")
	assert.Equal(t, "warning", d.Class)
	assert.Equal(t, "Exploded", d.Tooltip)
}

func TestPatchSetSummary_ZeroOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ps := &PatchSet{ApplyError: true, PatchworkActive: true}
	require.NoError(t, s.CreatePatchSet(ctx, ps))

	sum, err := PatchSetSummary(ctx, s, ps)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
}

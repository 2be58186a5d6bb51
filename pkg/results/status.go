package results

import (
	"context"
	"time"
)

// Dashboard status strings.
const (
	StatusPass               = "Pass"
	StatusPossibleRegression = "Possible Regression"
	StatusApplyError         = "Apply Error"
	StatusBuildError         = "Build Error"
	StatusIncomplete         = "Incomplete"
	StatusWaiting            = "Waiting"
	StatusPending            = "Pending"
	StatusNotApplicable      = "Not Applicable"
	StatusIndeterminate      = "Indeterminate"
)

// Display is the presentation mapping of a status string.
type Display struct {
	Class   string `json:"class"`
	Tooltip string `json:"tooltip"`
}

var statusDisplays = map[string]Display{
	StatusPass: {
		Class: "success",
		Tooltip: "All test results were within the tolerance threshold " +
			"from the expected result",
	},
	StatusPossibleRegression: {
		Class: "danger",
		Tooltip: "At least one test result was below the tolerance " +
			"threshold from the expected result",
	},
	StatusApplyError: {
		Class:   "warning",
		Tooltip: "The patch series could not be applied",
	},
	StatusBuildError: {
		Class:   "warning",
		Tooltip: "The patch series could not be built",
	},
	StatusIncomplete: {
		Class: "warning",
		Tooltip: "Not all test cases have been completed for this " +
			"patch series",
	},
	StatusWaiting: {
		Class: "primary",
		Tooltip: "A tarball has been generated but no test results " +
			"are available yet",
	},
	StatusPending: {
		Class: "secondary",
		Tooltip: "A tarball has not yet been generated for this " +
			"patch series",
	},
	StatusNotApplicable: {
		Class: "secondary",
		Tooltip: "The patch series is not active in the patch tracker " +
			"or is not required to be tested",
	},
	StatusIndeterminate: {
		Class: "primary",
		Tooltip: "A result could not be determined and could mean " +
			"that the test did not run to completion",
	},
}

// StatusDisplay returns the display class and tooltip for a status.
// Unknown statuses fall back to a warning class with the raw status as
// the tooltip.
func StatusDisplay(status string) Display {
	if d, ok := statusDisplays[status]; ok {
		return d
	}

	return Display{Class: "warning", Tooltip: status}
}

// referenceDate returns the date a tarball's results are judged against:
// the tarball's own date, falling back to the owning patch set's
// completion time. Nil when neither is known.
func referenceDate(
	ctx context.Context, s Store, tb *Tarball,
) (*time.Time, error) {
	if tb.Date != nil {
		return tb.Date, nil
	}

	if tb.PatchSetID == nil {
		return nil, nil
	}

	ps, err := s.GetPatchSet(ctx, *tb.PatchSetID)
	if err != nil {
		return nil, err
	}

	return ps.CompletedAt, nil
}

// TarballStatus derives a tarball's dashboard status. Recomputed on every
// call; nothing is cached.
//
// Environments created after the tarball's reference date are excluded so
// that hardware which did not exist at build time cannot make the tarball
// Incomplete. An environment with no live_since never contributes a
// regression, even with failing results.
func TarballStatus(ctx context.Context, s Store, tb *Tarball) (string, error) {
	hasRuns, err := s.TarballHasRuns(ctx, tb.ID)
	if err != nil {
		return "", err
	}

	if !hasRuns {
		return StatusWaiting, nil
	}

	asOf, err := referenceDate(ctx, s, tb)
	if err != nil {
		return "", err
	}

	envs, err := s.ActiveEnvironments(ctx, asOf)
	if err != nil {
		return "", err
	}

	regressed := false

	for i := range envs {
		env := &envs[i]

		run, err := s.LatestRunInLineage(ctx, env.ID, tb.ID)
		if err != nil {
			return "", err
		}

		if run == nil {
			// Missing coverage is reported before any regression.
			return StatusIncomplete, nil
		}

		if env.LiveSince == nil || env.LiveSince.After(run.Timestamp) {
			continue
		}

		failed, err := s.RunHasResult(ctx, run.ID, ResultFail)
		if err != nil {
			return "", err
		}

		if failed {
			regressed = true
		}
	}

	if regressed {
		return StatusPossibleRegression, nil
	}

	return StatusPass, nil
}

// PatchSetStatus derives a patch set's dashboard status. Error states take
// precedence; otherwise the most recent tarball's status is reported.
func PatchSetStatus(
	ctx context.Context, s Store, ps *PatchSet,
) (string, error) {
	if ps.ApplyError {
		return StatusApplyError, nil
	}

	if ps.BuildError {
		return StatusBuildError, nil
	}

	last, err := s.LatestTarball(ctx, ps.ID)
	if err != nil {
		return "", err
	}

	if last == nil {
		if !ps.PatchworkActive {
			return StatusNotApplicable, nil
		}

		return StatusPending, nil
	}

	return TarballStatus(ctx, s, last)
}

// Summary counts how each live environment fared against a tarball.
type Summary struct {
	Passed        int `json:"passed"`
	Failed        int `json:"failed"`
	Incomplete    int `json:"incomplete"`
	Indeterminate int `json:"indeterminate"`
}

// TarballSummary counts per-environment outcomes for a tarball. Only
// environments with live_since set are considered; a run recorded before
// the environment went live is skipped entirely. A run whose results
// contain neither PASS nor FAIL counts as indeterminate.
func TarballSummary(
	ctx context.Context, s Store, tb *Tarball,
) (Summary, error) {
	var sum Summary

	hasRuns, err := s.TarballHasRuns(ctx, tb.ID)
	if err != nil {
		return sum, err
	}

	if !hasRuns {
		return sum, nil
	}

	asOf, err := referenceDate(ctx, s, tb)
	if err != nil {
		return sum, err
	}

	envs, err := s.ActiveEnvironments(ctx, asOf)
	if err != nil {
		return sum, err
	}

	for i := range envs {
		env := &envs[i]

		if env.LiveSince == nil {
			continue
		}

		run, err := s.LatestRunInLineage(ctx, env.ID, tb.ID)
		if err != nil {
			return sum, err
		}

		if run == nil {
			sum.Incomplete++

			continue
		}

		if env.LiveSince.After(run.Timestamp) {
			continue
		}

		failed, err := s.RunHasResult(ctx, run.ID, ResultFail)
		if err != nil {
			return sum, err
		}

		if failed {
			sum.Failed++

			continue
		}

		passed, err := s.RunHasResult(ctx, run.ID, ResultPass)
		if err != nil {
			return sum, err
		}

		if passed {
			sum.Passed++
		} else {
			sum.Indeterminate++
		}
	}

	return sum, nil
}

// PatchSetSummary reports the most recent tarball's summary, or zeros when
// the patch set has an error or no tarballs.
func PatchSetSummary(
	ctx context.Context, s Store, ps *PatchSet,
) (Summary, error) {
	if ps.ApplyError || ps.BuildError {
		return Summary{}, nil
	}

	last, err := s.LatestTarball(ctx, ps.ID)
	if err != nil {
		return Summary{}, err
	}

	if last == nil {
		return Summary{}, nil
	}

	return TarballSummary(ctx, s, last)
}

// StatusReport bundles a status with its display mapping for API
// responses.
type StatusReport struct {
	Status  string  `json:"status"`
	Class   string  `json:"class"`
	Tooltip string  `json:"tooltip"`
	Summary Summary `json:"summary"`
}

// NewStatusReport builds a StatusReport from a status and summary.
func NewStatusReport(status string, sum Summary) StatusReport {
	d := StatusDisplay(status)

	return StatusReport{
		Status:  status,
		Class:   d.Class,
		Tooltip: d.Tooltip,
		Summary: sum,
	}
}

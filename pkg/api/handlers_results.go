package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/perflab/labdash/pkg/results"
)

// --- Helpers ---

// principalOr401 resolves the request principal, writing an error response
// and returning false when group resolution fails.
func (s *server) principalOr401(
	w http.ResponseWriter, r *http.Request,
) (*results.Principal, bool) {
	p, err := s.principalFromRequest(r)
	if err != nil {
		s.log.WithError(err).Error("Failed to resolve principal")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return nil, false
	}

	return p, true
}

// requireViewable checks the principal's view permission on an object and
// writes a 404 when denied. Denied reads 404 rather than 403 so private
// objects are indistinguishable from missing ones.
func (s *server) requireViewable(
	w http.ResponseWriter, r *http.Request,
	p *results.Principal, objectType string, objectID uint,
) bool {
	ok, err := s.results.Allowed(
		r.Context(), p, results.ActionView, objectType, objectID,
	)
	if err != nil {
		s.log.WithError(err).Error("Permission check failed")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return false
	}

	if !ok {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"not found"})

		return false
	}

	return true
}

// requireChangeable checks the principal's change permission on an object
// and writes a 403 when denied.
func (s *server) requireChangeable(
	w http.ResponseWriter, r *http.Request,
	p *results.Principal, objectType string, objectID uint,
) bool {
	ok, err := s.results.Allowed(
		r.Context(), p, results.ActionChange, objectType, objectID,
	)
	if err != nil {
		s.log.WithError(err).Error("Permission check failed")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return false
	}

	if !ok {
		writeJSON(w, http.StatusForbidden,
			errorResponse{"insufficient permissions"})

		return false
	}

	return true
}

// requireOwnerMember resolves the environment's owner group and writes a
// 403 unless the principal is staff or a member. Membership survives the
// change grant revocation that freezes an environment's descriptor.
func (s *server) requireOwnerMember(
	w http.ResponseWriter, r *http.Request,
	p *results.Principal, envID uint,
) bool {
	group, err := s.results.OwnerOf(
		r.Context(), results.ObjectEnvironment, envID,
	)
	if err != nil {
		s.storeError(w, err, "environment")

		return false
	}

	if !memberOf(p, group) {
		writeJSON(w, http.StatusForbidden,
			errorResponse{"not a member of the owner group"})

		return false
	}

	return true
}

// storeError maps store errors to HTTP responses.
func (s *server) storeError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		writeJSON(w, http.StatusNotFound,
			errorResponse{what + " not found"})
	case errors.Is(err, results.ErrEnvironmentMismatch),
		errors.Is(err, gorm.ErrDuplicatedKey):
		writeJSON(w, http.StatusBadRequest,
			errorResponse{err.Error()})
	case errors.Is(err, results.ErrHasSuccessor):
		writeJSON(w, http.StatusConflict,
			errorResponse{err.Error()})
	case errors.Is(err, results.ErrSubscriptionForbidden):
		writeJSON(w, http.StatusForbidden,
			errorResponse{err.Error()})
	default:
		s.log.WithError(err).Error("Store operation failed")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})
	}
}

func parseLimitOffset(r *http.Request) (limit, offset int) {
	limit = 50

	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}

	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}

	return limit, offset
}

// visibleToPrincipal reports whether a patch set is readable. Private
// patch sets are restricted to staff.
func visibleToPrincipal(ps *results.PatchSet, p *results.Principal) bool {
	if ps.IsPublic {
		return true
	}

	return p != nil && p.Staff
}

// --- Patch sets ---

type patchSetResponse struct {
	results.PatchSet

	Status *results.StatusReport `json:"status,omitempty"`
}

// handleListPatchSets lists patch sets with their derived statuses.
func (s *server) handleListPatchSets(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principalOr401(w, r)
	if !ok {
		return
	}

	limit, offset := parseLimitOffset(r)
	filter := results.PatchSetFilter{Limit: limit, Offset: offset}

	if raw := r.URL.Query().Get("with_tarball"); raw != "" {
		v := raw == "true"
		filter.WithTarball = &v
	}

	sets, err := s.results.ListPatchSets(r.Context(), filter)
	if err != nil {
		s.storeError(w, err, "patch sets")

		return
	}

	resp := make([]patchSetResponse, 0, len(sets))
	for i := range sets {
		if !visibleToPrincipal(&sets[i], p) {
			continue
		}

		resp = append(resp, patchSetResponse{PatchSet: sets[i]})
	}

	// Compute statuses concurrently. Each status needs several queries
	// against the lineage and run tables, so fan out with a bound.
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(8)

	for i := range resp {
		i := i
		g.Go(func() error {
			report, err := s.patchSetReport(ctx, &resp[i].PatchSet)
			if err != nil {
				return err
			}

			resp[i].Status = report

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.storeError(w, err, "patch set status")

		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *server) patchSetReport(
	ctx context.Context, ps *results.PatchSet,
) (*results.StatusReport, error) {
	status, err := results.PatchSetStatus(ctx, s.results, ps)
	if err != nil {
		return nil, err
	}

	sum, err := results.PatchSetSummary(ctx, s.results, ps)
	if err != nil {
		return nil, err
	}

	report := results.NewStatusReport(status, sum)

	return &report, nil
}

// handleGetPatchSet returns a single patch set.
func (s *server) handleGetPatchSet(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principalOr401(w, r)
	if !ok {
		return
	}

	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	ps, err := s.results.GetPatchSet(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "patch set")

		return
	}

	if !visibleToPrincipal(ps, p) {
		writeJSON(w, http.StatusNotFound, errorResponse{"not found"})

		return
	}

	writeJSON(w, http.StatusOK, ps)
}

// handlePatchSetStatus returns the derived status of a patch set.
func (s *server) handlePatchSetStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principalOr401(w, r)
	if !ok {
		return
	}

	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	ps, err := s.results.GetPatchSet(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "patch set")

		return
	}

	if !visibleToPrincipal(ps, p) {
		writeJSON(w, http.StatusNotFound, errorResponse{"not found"})

		return
	}

	report, err := s.patchSetReport(r.Context(), ps)
	if err != nil {
		s.storeError(w, err, "patch set status")

		return
	}

	writeJSON(w, http.StatusOK, report)
}

// --- Tarballs ---

// handleListTarballs lists tarballs, optionally filtered by patch set.
func (s *server) handleListTarballs(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r)
	filter := results.TarballFilter{Limit: limit, Offset: offset}

	if raw := r.URL.Query().Get("patchset_id"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"invalid patchset_id"})

			return
		}

		id := uint(v)
		filter.PatchSetID = &id
	}

	tarballs, err := s.results.ListTarballs(r.Context(), filter)
	if err != nil {
		s.storeError(w, err, "tarballs")

		return
	}

	writeJSON(w, http.StatusOK, tarballs)
}

// handleGetTarball returns a single tarball.
func (s *server) handleGetTarball(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	tb, err := s.results.GetTarball(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "tarball")

		return
	}

	writeJSON(w, http.StatusOK, tb)
}

// handleTarballStatus returns the derived status of a tarball.
func (s *server) handleTarballStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	tb, err := s.results.GetTarball(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "tarball")

		return
	}

	status, err := results.TarballStatus(r.Context(), s.results, tb)
	if err != nil {
		s.storeError(w, err, "tarball status")

		return
	}

	sum, err := results.TarballSummary(r.Context(), s.results, tb)
	if err != nil {
		s.storeError(w, err, "tarball summary")

		return
	}

	writeJSON(w, http.StatusOK, results.NewStatusReport(status, sum))
}

// --- Branches ---

func (s *server) handleListBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := s.results.ListBranches(r.Context())
	if err != nil {
		s.storeError(w, err, "branches")

		return
	}

	writeJSON(w, http.StatusOK, branches)
}

func (s *server) handleGetBranch(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	b, err := s.results.GetBranch(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "branch")

		return
	}

	writeJSON(w, http.StatusOK, b)
}

// --- Environments ---

// handleListEnvironments lists the environments visible to the principal.
func (s *server) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principalOr401(w, r)
	if !ok {
		return
	}

	ids, err := s.results.VisibleEnvironmentIDs(r.Context(), p)
	if err != nil {
		s.storeError(w, err, "environments")

		return
	}

	visible := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		visible[id] = struct{}{}
	}

	envs, err := s.results.ListEnvironments(r.Context())
	if err != nil {
		s.storeError(w, err, "environments")

		return
	}

	resp := make([]results.Environment, 0, len(envs))

	for i := range envs {
		if _, ok := visible[envs[i].ID]; ok {
			resp = append(resp, envs[i])
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleGetEnvironment(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principalOr401(w, r)
	if !ok {
		return
	}

	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	if !s.requireViewable(w, r, p, results.ObjectEnvironment, id) {
		return
	}

	env, err := s.results.GetEnvironment(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "environment")

		return
	}

	writeJSON(w, http.StatusOK, env)
}

// handleEnvironmentRuns returns the runs of an environment and its full
// predecessor lineage.
func (s *server) handleEnvironmentRuns(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principalOr401(w, r)
	if !ok {
		return
	}

	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	if !s.requireViewable(w, r, p, results.ObjectEnvironment, id) {
		return
	}

	runs, err := s.results.AllRuns(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "runs")

		return
	}

	writeJSON(w, http.StatusOK, runs)
}

func (s *server) handleEnvironmentMeasurements(
	w http.ResponseWriter, r *http.Request,
) {
	p, ok := s.principalOr401(w, r)
	if !ok {
		return
	}

	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	if !s.requireViewable(w, r, p, results.ObjectEnvironment, id) {
		return
	}

	measurements, err := s.results.ListMeasurements(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "measurements")

		return
	}

	writeJSON(w, http.StatusOK, measurements)
}

// handleCreateEnvironment registers a new environment. The caller must be
// staff or a member of the environment's owner group.
func (s *server) handleCreateEnvironment(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principalOr401(w, r)
	if !ok {
		return
	}

	var env results.Environment
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if env.InventoryID == "" || env.OwnerGroup == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"inventory_id and owner_group are required"})

		return
	}

	if !memberOf(p, env.OwnerGroup) {
		writeJSON(w, http.StatusForbidden,
			errorResponse{"not a member of the owner group"})

		return
	}

	env.ID = 0
	env.PredecessorID = nil

	if err := s.results.CreateEnvironment(r.Context(), &env); err != nil {
		s.storeError(w, err, "environment")

		return
	}

	writeJSON(w, http.StatusCreated, env)
}

// handleCloneEnvironment creates a successor copy of an environment.
func (s *server) handleCloneEnvironment(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principalOr401(w, r)
	if !ok {
		return
	}

	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	if !s.requireOwnerMember(w, r, p, id) {
		return
	}

	clone, err := s.results.CloneEnvironment(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "environment")

		return
	}

	writeJSON(w, http.StatusCreated, clone)
}

// memberOf reports whether the principal is staff or belongs to group.
func memberOf(p *results.Principal, group string) bool {
	if p == nil {
		return false
	}

	if p.Staff {
		return true
	}

	for _, g := range p.Groups {
		if g == group {
			return true
		}
	}

	return false
}

// --- Test cases and measurements ---

func (s *server) handleListTestCases(w http.ResponseWriter, r *http.Request) {
	cases, err := s.results.ListTestCases(r.Context())
	if err != nil {
		s.storeError(w, err, "test cases")

		return
	}

	writeJSON(w, http.StatusOK, cases)
}

func (s *server) handleGetMeasurement(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principalOr401(w, r)
	if !ok {
		return
	}

	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	if !s.requireViewable(w, r, p, results.ObjectMeasurement, id) {
		return
	}

	m, err := s.results.GetMeasurement(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "measurement")

		return
	}

	writeJSON(w, http.StatusOK, m)
}

// handleCreateMeasurement adds a measurement to an environment.
func (s *server) handleCreateMeasurement(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principalOr401(w, r)
	if !ok {
		return
	}

	var m results.Measurement
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if m.EnvironmentID == 0 || m.Name == "" || m.Unit == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"name, unit and environment_id are required"})

		return
	}

	if !s.requireChangeable(w, r, p, results.ObjectEnvironment, m.EnvironmentID) {
		return
	}

	m.ID = 0

	if err := s.results.CreateMeasurement(r.Context(), &m); err != nil {
		s.storeError(w, err, "measurement")

		return
	}

	writeJSON(w, http.StatusCreated, m)
}

// --- Test runs ---

func (s *server) handleGetTestRun(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principalOr401(w, r)
	if !ok {
		return
	}

	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	if !s.requireViewable(w, r, p, results.ObjectTestRun, id) {
		return
	}

	run, err := s.results.GetTestRun(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "test run")

		return
	}

	writeJSON(w, http.StatusOK, run)
}

// handleCreateTestRun ingests a test run with its results. Ingestion is
// authorized by owner group membership, not the change grant: recording
// results revokes the change grant to freeze the descriptor, but the
// owner group keeps recording runs for later tarballs.
func (s *server) handleCreateTestRun(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principalOr401(w, r)
	if !ok {
		return
	}

	var run results.TestRun
	if err := json.NewDecoder(r.Body).Decode(&run); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if run.TarballID == 0 || run.EnvironmentID == 0 {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"tarball_id and environment_id are required"})

		return
	}

	if !s.requireOwnerMember(w, r, p, run.EnvironmentID) {
		return
	}

	run.ID = 0

	if run.Timestamp.IsZero() {
		run.Timestamp = time.Now().UTC()
	}

	if err := s.results.CreateTestRun(r.Context(), &run); err != nil {
		s.storeError(w, err, "test run")

		return
	}

	writeJSON(w, http.StatusCreated, run)
}

// --- Subscriptions ---

func (s *server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{"not authenticated"})

		return
	}

	subs, err := s.results.ListSubscriptions(r.Context(), user.Username)
	if err != nil {
		s.storeError(w, err, "subscriptions")

		return
	}

	writeJSON(w, http.StatusOK, subs)
}

func (s *server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principalOr401(w, r)
	if !ok {
		return
	}

	user := userFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{"not authenticated"})

		return
	}

	var sub results.Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if sub.EnvironmentID == 0 {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"environment_id is required"})

		return
	}

	sub.ID = 0
	sub.Username = user.Username

	if sub.How == "" {
		sub.How = results.EmailTo
	}

	if err := s.results.CreateSubscription(r.Context(), p, &sub); err != nil {
		s.storeError(w, err, "subscription")

		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

func (s *server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{"not authenticated"})

		return
	}

	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	sub, err := s.results.GetSubscription(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "subscription")

		return
	}

	if sub.Username != user.Username && !user.Staff {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"subscription not found"})

		return
	}

	if err := s.results.DeleteSubscription(r.Context(), id); err != nil {
		s.storeError(w, err, "subscription")

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Dashboard ---

type dashboardResponse struct {
	PatchSets    []patchSetResponse    `json:"patchsets"`
	Environments []results.Environment `json:"environments"`
}

// handleDashboard returns the landing page payload: recent patch sets
// with derived statuses plus the environments visible to the caller. The
// two halves load concurrently.
func (s *server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principalOr401(w, r)
	if !ok {
		return
	}

	limit, offset := parseLimitOffset(r)

	var resp dashboardResponse

	g, ctx := errgroup.WithContext(r.Context())

	g.Go(func() error {
		withTarball := true

		sets, err := s.results.ListPatchSets(ctx, results.PatchSetFilter{
			WithTarball: &withTarball,
			Limit:       limit,
			Offset:      offset,
		})
		if err != nil {
			return err
		}

		resp.PatchSets = make([]patchSetResponse, 0, len(sets))
		for i := range sets {
			if !visibleToPrincipal(&sets[i], p) {
				continue
			}

			resp.PatchSets = append(resp.PatchSets,
				patchSetResponse{PatchSet: sets[i]})
		}

		sg, sctx := errgroup.WithContext(ctx)
		sg.SetLimit(8)

		for i := range resp.PatchSets {
			i := i
			sg.Go(func() error {
				report, err := s.patchSetReport(
					sctx, &resp.PatchSets[i].PatchSet,
				)
				if err != nil {
					return err
				}

				resp.PatchSets[i].Status = report

				return nil
			})
		}

		return sg.Wait()
	})

	g.Go(func() error {
		ids, err := s.results.VisibleEnvironmentIDs(ctx, p)
		if err != nil {
			return err
		}

		visible := make(map[uint]struct{}, len(ids))
		for _, id := range ids {
			visible[id] = struct{}{}
		}

		now := time.Now().UTC()

		envs, err := s.results.ActiveEnvironments(ctx, &now)
		if err != nil {
			return err
		}

		resp.Environments = make([]results.Environment, 0, len(envs))

		for i := range envs {
			if _, ok := visible[envs[i].ID]; ok {
				resp.Environments = append(resp.Environments, envs[i])
			}
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		s.storeError(w, err, "dashboard")

		return
	}

	writeJSON(w, http.StatusOK, resp)
}

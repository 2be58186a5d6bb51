package results

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/perflab/labdash/pkg/config"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Validation errors surfaced by write operations. These block persistence.
var (
	// ErrEnvironmentMismatch is returned when a test result references a
	// measurement that belongs to a different environment than its run.
	ErrEnvironmentMismatch = errors.New(
		"all results for a test run must reference measurements of the run's environment")

	// ErrSubscriptionForbidden is returned when a user subscribes to an
	// environment they cannot view.
	ErrSubscriptionForbidden = errors.New(
		"user does not have permission to view this environment")

	// ErrHasSuccessor is returned when cloning an environment that has
	// already been cloned.
	ErrHasSuccessor = errors.New("environment already has a successor")
)

// PatchSetFilter narrows ListPatchSets.
type PatchSetFilter struct {
	// WithTarball filters to patch sets that have (true) or lack (false)
	// tarballs. Nil returns all.
	WithTarball *bool
	Limit       int
	Offset      int
}

// TarballFilter narrows ListTarballs.
type TarballFilter struct {
	PatchSetID *uint
	Limit      int
	Offset     int
}

// Store provides persistence for lab test results.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Branch CRUD.
	CreateBranch(ctx context.Context, b *Branch) error
	GetBranch(ctx context.Context, id uint) (*Branch, error)
	ListBranches(ctx context.Context) ([]Branch, error)

	// Patch set CRUD.
	CreatePatchSet(ctx context.Context, ps *PatchSet) error
	UpdatePatchSet(ctx context.Context, ps *PatchSet) error
	GetPatchSet(ctx context.Context, id uint) (*PatchSet, error)
	GetPatchSetBySeries(ctx context.Context, seriesID uint) (*PatchSet, error)
	ListPatchSets(ctx context.Context, f PatchSetFilter) ([]PatchSet, error)

	// Tarball CRUD.
	CreateTarball(ctx context.Context, tb *Tarball) error
	GetTarball(ctx context.Context, id uint) (*Tarball, error)
	ListTarballs(ctx context.Context, f TarballFilter) ([]Tarball, error)
	// LatestTarball returns the most recently created tarball of a patch
	// set, or nil when the patch set has none.
	LatestTarball(ctx context.Context, patchSetID uint) (*Tarball, error)
	TarballHasRuns(ctx context.Context, tarballID uint) (bool, error)

	// Environment CRUD and lineage.
	CreateEnvironment(ctx context.Context, env *Environment) error
	UpdateEnvironment(ctx context.Context, env *Environment) error
	GetEnvironment(ctx context.Context, id uint) (*Environment, error)
	ListEnvironments(ctx context.Context) ([]Environment, error)
	// ActiveEnvironments returns environments without a successor whose
	// date is null or not after asOf. A nil asOf matches only null dates.
	ActiveEnvironments(ctx context.Context, asOf *time.Time) ([]Environment, error)
	// Successor returns the environment cloned from id, or nil.
	Successor(ctx context.Context, id uint) (*Environment, error)
	// AllIDs returns the id chain of an environment's predecessor lineage,
	// oldest first, the environment itself last.
	AllIDs(ctx context.Context, id uint) ([]uint, error)
	// AllRuns returns the test runs of an environment and all its
	// predecessors, ordered by timestamp.
	AllRuns(ctx context.Context, id uint) ([]TestRun, error)
	// CloneEnvironment creates a successor copy of an environment together
	// with its contact policy, measurements, and parameters, re-parenting
	// subscriptions onto the clone. Runs in a single transaction.
	CloneEnvironment(ctx context.Context, id uint) (*Environment, error)

	// Contact policies.
	CreateContactPolicy(ctx context.Context, cp *ContactPolicy) error
	GetContactPolicy(ctx context.Context, environmentID uint) (*ContactPolicy, error)

	// Test cases.
	CreateTestCase(ctx context.Context, tc *TestCase) error
	GetTestCase(ctx context.Context, id uint) (*TestCase, error)
	ListTestCases(ctx context.Context) ([]TestCase, error)

	// Measurements.
	CreateMeasurement(ctx context.Context, m *Measurement) error
	GetMeasurement(ctx context.Context, id uint) (*Measurement, error)
	ListMeasurements(ctx context.Context, environmentID uint) ([]Measurement, error)

	// Test runs and results.
	CreateTestRun(ctx context.Context, run *TestRun) error
	GetTestRun(ctx context.Context, id uint) (*TestRun, error)
	ListRunsForTarball(ctx context.Context, tarballID uint) ([]TestRun, error)
	// LatestRunInLineage returns the newest run against a tarball across
	// an environment's full predecessor lineage, or nil when none exists.
	LatestRunInLineage(ctx context.Context, environmentID, tarballID uint) (*TestRun, error)
	RunHasResult(ctx context.Context, runID uint, result string) (bool, error)

	// Subscriptions.
	CreateSubscription(ctx context.Context, p *Principal, sub *Subscription) error
	GetSubscription(ctx context.Context, id uint) (*Subscription, error)
	ListSubscriptions(ctx context.Context, username string) ([]Subscription, error)
	DeleteSubscription(ctx context.Context, id uint) error

	// Permissions.
	Allowed(ctx context.Context, p *Principal, action, objectType string, objectID uint) (bool, error)
	OwnerOf(ctx context.Context, objectType string, objectID uint) (string, error)
	VisibleEnvironmentIDs(ctx context.Context, p *Principal) ([]uint, error)
	SetPublic(ctx context.Context, environmentID uint) error
	SetPrivate(ctx context.Context, environmentID uint) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.APIDatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.APIDatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "results"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening results database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Branch{},
		&PatchSet{},
		&Tarball{},
		&Environment{},
		&ContactPolicy{},
		&TestCase{},
		&Measurement{},
		&Parameter{},
		&TestRun{},
		&TestResult{},
		&Subscription{},
		&Grant{},
	); err != nil {
		return fmt.Errorf("running results migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Results database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// --- Branch CRUD ---

func (s *store) CreateBranch(ctx context.Context, b *Branch) error {
	if err := s.db.WithContext(ctx).Create(b).Error; err != nil {
		return fmt.Errorf("creating branch: %w", err)
	}

	return nil
}

func (s *store) GetBranch(ctx context.Context, id uint) (*Branch, error) {
	var b Branch
	if err := s.db.WithContext(ctx).First(&b, id).Error; err != nil {
		return nil, fmt.Errorf("getting branch: %w", err)
	}

	return &b, nil
}

func (s *store) ListBranches(ctx context.Context) ([]Branch, error) {
	var branches []Branch
	if err := s.db.WithContext(ctx).
		Order("id ASC").
		Find(&branches).Error; err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}

	return branches, nil
}

// --- Patch set CRUD ---

func (s *store) CreatePatchSet(ctx context.Context, ps *PatchSet) error {
	if ps.UUID == "" {
		ps.UUID = uuid.NewString()
	}

	if err := s.db.WithContext(ctx).Create(ps).Error; err != nil {
		return fmt.Errorf("creating patch set: %w", err)
	}

	return nil
}

func (s *store) UpdatePatchSet(ctx context.Context, ps *PatchSet) error {
	if err := s.db.WithContext(ctx).Save(ps).Error; err != nil {
		return fmt.Errorf("updating patch set: %w", err)
	}

	return nil
}

func (s *store) GetPatchSet(ctx context.Context, id uint) (*PatchSet, error) {
	var ps PatchSet
	if err := s.db.WithContext(ctx).First(&ps, id).Error; err != nil {
		return nil, fmt.Errorf("getting patch set: %w", err)
	}

	return &ps, nil
}

func (s *store) GetPatchSetBySeries(
	ctx context.Context, seriesID uint,
) (*PatchSet, error) {
	var ps PatchSet
	if err := s.db.WithContext(ctx).
		Where("series_id = ?", seriesID).
		First(&ps).Error; err != nil {
		return nil, fmt.Errorf("getting patch set by series: %w", err)
	}

	return &ps, nil
}

func (s *store) ListPatchSets(
	ctx context.Context, f PatchSetFilter,
) ([]PatchSet, error) {
	q := s.db.WithContext(ctx).Model(&PatchSet{})

	if f.WithTarball != nil {
		sub := s.db.Model(&Tarball{}).
			Select("patch_set_id").
			Where("patch_set_id IS NOT NULL")

		if *f.WithTarball {
			q = q.Where("id IN (?)", sub)
		} else {
			q = q.Where("id NOT IN (?)", sub)
		}
	}

	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var sets []PatchSet
	if err := q.Order("id DESC").Find(&sets).Error; err != nil {
		return nil, fmt.Errorf("listing patch sets: %w", err)
	}

	return sets, nil
}

// --- Tarball CRUD ---

func (s *store) CreateTarball(ctx context.Context, tb *Tarball) error {
	if err := s.db.WithContext(ctx).Create(tb).Error; err != nil {
		return fmt.Errorf("creating tarball: %w", err)
	}

	return nil
}

func (s *store) GetTarball(ctx context.Context, id uint) (*Tarball, error) {
	var tb Tarball
	if err := s.db.WithContext(ctx).First(&tb, id).Error; err != nil {
		return nil, fmt.Errorf("getting tarball: %w", err)
	}

	return &tb, nil
}

func (s *store) ListTarballs(
	ctx context.Context, f TarballFilter,
) ([]Tarball, error) {
	q := s.db.WithContext(ctx).Model(&Tarball{})

	if f.PatchSetID != nil {
		q = q.Where("patch_set_id = ?", *f.PatchSetID)
	}

	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var tarballs []Tarball
	if err := q.Order("id DESC").Find(&tarballs).Error; err != nil {
		return nil, fmt.Errorf("listing tarballs: %w", err)
	}

	return tarballs, nil
}

func (s *store) LatestTarball(
	ctx context.Context, patchSetID uint,
) (*Tarball, error) {
	var tb Tarball

	err := s.db.WithContext(ctx).
		Where("patch_set_id = ?", patchSetID).
		Order("id DESC").
		First(&tb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("getting latest tarball: %w", err)
	}

	return &tb, nil
}

func (s *store) TarballHasRuns(
	ctx context.Context, tarballID uint,
) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&TestRun{}).
		Where("tarball_id = ?", tarballID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("counting tarball runs: %w", err)
	}

	return count > 0, nil
}

// --- Environment CRUD and lineage ---

func (s *store) CreateEnvironment(ctx context.Context, env *Environment) error {
	if env.UUID == "" {
		env.UUID = uuid.NewString()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(env).Error; err != nil {
			return fmt.Errorf("creating environment: %w", err)
		}

		return assignOwnerGrants(tx, env.OwnerGroup, ObjectEnvironment, env.ID)
	})
}

func (s *store) UpdateEnvironment(ctx context.Context, env *Environment) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(env).Error; err != nil {
			return fmt.Errorf("updating environment: %w", err)
		}

		return assignOwnerGrants(tx, env.OwnerGroup, ObjectEnvironment, env.ID)
	})
}

func (s *store) GetEnvironment(
	ctx context.Context, id uint,
) (*Environment, error) {
	var env Environment
	if err := s.db.WithContext(ctx).First(&env, id).Error; err != nil {
		return nil, fmt.Errorf("getting environment: %w", err)
	}

	return &env, nil
}

func (s *store) ListEnvironments(ctx context.Context) ([]Environment, error) {
	var envs []Environment
	if err := s.db.WithContext(ctx).
		Order("id ASC").
		Find(&envs).Error; err != nil {
		return nil, fmt.Errorf("listing environments: %w", err)
	}

	return envs, nil
}

func (s *store) ActiveEnvironments(
	ctx context.Context, asOf *time.Time,
) ([]Environment, error) {
	q := s.db.WithContext(ctx).
		Where("id NOT IN (?)", s.db.Model(&Environment{}).
			Select("predecessor_id").
			Where("predecessor_id IS NOT NULL"))

	if asOf != nil {
		q = q.Where("date IS NULL OR date <= ?", *asOf)
	} else {
		q = q.Where("date IS NULL")
	}

	var envs []Environment
	if err := q.Order("id ASC").Find(&envs).Error; err != nil {
		return nil, fmt.Errorf("listing active environments: %w", err)
	}

	return envs, nil
}

func (s *store) Successor(
	ctx context.Context, id uint,
) (*Environment, error) {
	var env Environment

	err := s.db.WithContext(ctx).
		Where("predecessor_id = ?", id).
		First(&env).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("getting successor: %w", err)
	}

	return &env, nil
}

func (s *store) AllIDs(ctx context.Context, id uint) ([]uint, error) {
	// Walk predecessor links backward, then reverse so the oldest
	// generation comes first and the environment itself last.
	var chain []uint

	cur := id
	for {
		chain = append(chain, cur)

		var env Environment
		if err := s.db.WithContext(ctx).
			Select("id", "predecessor_id").
			First(&env, cur).Error; err != nil {
			return nil, fmt.Errorf("walking environment lineage: %w", err)
		}

		if env.PredecessorID == nil {
			break
		}

		cur = *env.PredecessorID
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	return chain, nil
}

func (s *store) AllRuns(ctx context.Context, id uint) ([]TestRun, error) {
	ids, err := s.AllIDs(ctx, id)
	if err != nil {
		return nil, err
	}

	var runs []TestRun
	if err := s.db.WithContext(ctx).
		Where("environment_id IN ?", ids).
		Order("timestamp ASC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing lineage runs: %w", err)
	}

	return runs, nil
}

// --- Contact policies ---

func (s *store) CreateContactPolicy(
	ctx context.Context, cp *ContactPolicy,
) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(cp).Error; err != nil {
			return fmt.Errorf("creating contact policy: %w", err)
		}

		var env Environment
		if err := tx.First(&env, cp.EnvironmentID).Error; err != nil {
			return fmt.Errorf("getting policy environment: %w", err)
		}

		if env.OwnerGroup == "" {
			return nil
		}

		for _, action := range []string{ActionView, ActionChange} {
			if err := assignGrant(
				tx, env.OwnerGroup, action, ObjectContactPolicy, cp.ID,
			); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *store) GetContactPolicy(
	ctx context.Context, environmentID uint,
) (*ContactPolicy, error) {
	var cp ContactPolicy
	if err := s.db.WithContext(ctx).
		Where("environment_id = ?", environmentID).
		First(&cp).Error; err != nil {
		return nil, fmt.Errorf("getting contact policy: %w", err)
	}

	return &cp, nil
}

// --- Test cases ---

func (s *store) CreateTestCase(ctx context.Context, tc *TestCase) error {
	if err := s.db.WithContext(ctx).Create(tc).Error; err != nil {
		return fmt.Errorf("creating test case: %w", err)
	}

	return nil
}

func (s *store) GetTestCase(ctx context.Context, id uint) (*TestCase, error) {
	var tc TestCase
	if err := s.db.WithContext(ctx).First(&tc, id).Error; err != nil {
		return nil, fmt.Errorf("getting test case: %w", err)
	}

	return &tc, nil
}

func (s *store) ListTestCases(ctx context.Context) ([]TestCase, error) {
	var cases []TestCase
	if err := s.db.WithContext(ctx).
		Order("id ASC").
		Find(&cases).Error; err != nil {
		return nil, fmt.Errorf("listing test cases: %w", err)
	}

	return cases, nil
}

// --- Measurements ---

func (s *store) CreateMeasurement(ctx context.Context, m *Measurement) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return fmt.Errorf("creating measurement: %w", err)
		}

		owner, err := environmentOwner(tx, m.EnvironmentID)
		if err != nil {
			return err
		}

		if err := assignOwnerGrants(tx, owner, ObjectMeasurement, m.ID); err != nil {
			return err
		}

		return propagatePublicGrant(tx, m.EnvironmentID, ObjectMeasurement, m.ID)
	})
}

func (s *store) GetMeasurement(
	ctx context.Context, id uint,
) (*Measurement, error) {
	var m Measurement
	if err := s.db.WithContext(ctx).
		Preload("Parameters").
		First(&m, id).Error; err != nil {
		return nil, fmt.Errorf("getting measurement: %w", err)
	}

	return &m, nil
}

func (s *store) ListMeasurements(
	ctx context.Context, environmentID uint,
) ([]Measurement, error) {
	var measurements []Measurement
	if err := s.db.WithContext(ctx).
		Preload("Parameters").
		Where("environment_id = ?", environmentID).
		Order("id ASC").
		Find(&measurements).Error; err != nil {
		return nil, fmt.Errorf("listing measurements: %w", err)
	}

	return measurements, nil
}

// --- Test runs and results ---

// CreateTestRun persists a run together with its results. Every result
// must reference a measurement of the run's environment; a mismatch
// aborts the whole transaction.
func (s *store) CreateTestRun(ctx context.Context, run *TestRun) error {
	if run.UUID == "" {
		run.UUID = uuid.NewString()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range run.Results {
			var m Measurement
			if err := tx.First(&m, run.Results[i].MeasurementID).Error; err != nil {
				return fmt.Errorf("getting result measurement: %w", err)
			}

			if m.EnvironmentID != run.EnvironmentID {
				return ErrEnvironmentMismatch
			}
		}

		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("creating test run: %w", err)
		}

		owner, err := environmentOwner(tx, run.EnvironmentID)
		if err != nil {
			return err
		}

		if err := assignOwnerGrants(tx, owner, ObjectTestRun, run.ID); err != nil {
			return err
		}

		if err := propagatePublicGrant(
			tx, run.EnvironmentID, ObjectTestRun, run.ID,
		); err != nil {
			return err
		}

		for i := range run.Results {
			id := run.Results[i].ID

			if err := assignOwnerGrants(tx, owner, ObjectTestResult, id); err != nil {
				return err
			}

			if err := propagatePublicGrant(
				tx, run.EnvironmentID, ObjectTestResult, id,
			); err != nil {
				return err
			}
		}

		// Once results exist against an environment it is immutable.
		return clearEnvironmentWriteGrants(tx, run.EnvironmentID)
	})
}

func (s *store) GetTestRun(ctx context.Context, id uint) (*TestRun, error) {
	var run TestRun
	if err := s.db.WithContext(ctx).
		Preload("Results").
		First(&run, id).Error; err != nil {
		return nil, fmt.Errorf("getting test run: %w", err)
	}

	return &run, nil
}

func (s *store) ListRunsForTarball(
	ctx context.Context, tarballID uint,
) ([]TestRun, error) {
	var runs []TestRun
	if err := s.db.WithContext(ctx).
		Where("tarball_id = ?", tarballID).
		Order("timestamp ASC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing tarball runs: %w", err)
	}

	return runs, nil
}

func (s *store) LatestRunInLineage(
	ctx context.Context, environmentID, tarballID uint,
) (*TestRun, error) {
	ids, err := s.AllIDs(ctx, environmentID)
	if err != nil {
		return nil, err
	}

	var run TestRun

	err = s.db.WithContext(ctx).
		Where("environment_id IN ? AND tarball_id = ?", ids, tarballID).
		Order("timestamp DESC, id DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("getting latest lineage run: %w", err)
	}

	return &run, nil
}

func (s *store) RunHasResult(
	ctx context.Context, runID uint, result string,
) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&TestResult{}).
		Where("test_run_id = ? AND result = ?", runID, result).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("counting run results: %w", err)
	}

	return count > 0, nil
}

// --- Subscriptions ---

func (s *store) CreateSubscription(
	ctx context.Context, p *Principal, sub *Subscription,
) error {
	allowed, err := s.Allowed(
		ctx, p, ActionView, ObjectEnvironment, sub.EnvironmentID,
	)
	if err != nil {
		return err
	}

	if !allowed {
		return ErrSubscriptionForbidden
	}

	if sub.How == "" {
		sub.How = EmailTo
	}

	if sub.How != EmailTo && sub.How != EmailCC {
		return fmt.Errorf("invalid subscription how %q", sub.How)
	}

	if err := s.db.WithContext(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("creating subscription: %w", err)
	}

	return nil
}

func (s *store) GetSubscription(
	ctx context.Context, id uint,
) (*Subscription, error) {
	var sub Subscription
	if err := s.db.WithContext(ctx).First(&sub, id).Error; err != nil {
		return nil, fmt.Errorf("getting subscription: %w", err)
	}

	return &sub, nil
}

func (s *store) ListSubscriptions(
	ctx context.Context, username string,
) ([]Subscription, error) {
	var subs []Subscription
	if err := s.db.WithContext(ctx).
		Where("username = ?", username).
		Order("id ASC").
		Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}

	return subs, nil
}

func (s *store) DeleteSubscription(ctx context.Context, id uint) error {
	if err := s.db.WithContext(ctx).
		Delete(&Subscription{}, id).Error; err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}

	return nil
}

// environmentOwner returns the owner group of an environment, empty when
// unowned.
func environmentOwner(tx *gorm.DB, environmentID uint) (string, error) {
	var env Environment
	if err := tx.Select("id", "owner_group").
		First(&env, environmentID).Error; err != nil {
		return "", fmt.Errorf("getting environment owner: %w", err)
	}

	return env.OwnerGroup, nil
}

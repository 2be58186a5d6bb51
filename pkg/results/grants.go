package results

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Grant actions.
const (
	ActionView   = "view"
	ActionChange = "change"
	ActionDelete = "delete"
)

// Grant object types.
const (
	ObjectEnvironment   = "environment"
	ObjectMeasurement   = "measurement"
	ObjectTestRun       = "testrun"
	ObjectTestResult    = "testresult"
	ObjectContactPolicy = "contactpolicy"
)

// PublicGroup is the pseudo-group whose grants apply to every principal,
// including the anonymous one.
const PublicGroup = "public"

// Grant is a per-object capability held by a group. Absence of a grant
// denies access; grants are only ever additive.
type Grant struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	GroupName  string `gorm:"uniqueIndex:idx_grant;not null" json:"group_name"`
	Action     string `gorm:"uniqueIndex:idx_grant;not null" json:"action"`
	ObjectType string `gorm:"uniqueIndex:idx_grant;not null" json:"object_type"`
	ObjectID   uint   `gorm:"uniqueIndex:idx_grant;not null" json:"object_id"`
}

// Principal is an acting identity resolved by the authentication layer.
// A nil *Principal is the anonymous principal.
type Principal struct {
	Username string
	Staff    bool
	Groups   []string
}

// groupsOf returns the effective group set of a principal. The public
// group is always included so public grants apply to everyone.
func groupsOf(p *Principal) []string {
	if p == nil {
		return []string{PublicGroup}
	}

	return append([]string{PublicGroup}, p.Groups...)
}

// Allowed reports whether the principal may perform action on the given
// object. Staff principals pass unconditionally.
func (s *store) Allowed(
	ctx context.Context,
	p *Principal,
	action, objectType string,
	objectID uint,
) (bool, error) {
	if p != nil && p.Staff {
		return true, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Grant{}).
		Where("group_name IN ? AND action = ? AND object_type = ? AND object_id = ?",
			groupsOf(p), action, objectType, objectID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking grant: %w", err)
	}

	return count > 0, nil
}

// OwnerOf resolves the owning group of an environment-derived object by
// walking its parent chain down to the environment.
func (s *store) OwnerOf(
	ctx context.Context, objectType string, objectID uint,
) (string, error) {
	switch objectType {
	case ObjectEnvironment:
		return environmentOwner(s.db.WithContext(ctx), objectID)
	case ObjectMeasurement:
		var m Measurement
		if err := s.db.WithContext(ctx).
			Select("id", "environment_id").
			First(&m, objectID).Error; err != nil {
			return "", fmt.Errorf("getting measurement: %w", err)
		}

		return environmentOwner(s.db.WithContext(ctx), m.EnvironmentID)
	case ObjectTestRun:
		var run TestRun
		if err := s.db.WithContext(ctx).
			Select("id", "environment_id").
			First(&run, objectID).Error; err != nil {
			return "", fmt.Errorf("getting test run: %w", err)
		}

		return environmentOwner(s.db.WithContext(ctx), run.EnvironmentID)
	case ObjectTestResult:
		var tr TestResult
		if err := s.db.WithContext(ctx).
			Select("id", "measurement_id").
			First(&tr, objectID).Error; err != nil {
			return "", fmt.Errorf("getting test result: %w", err)
		}

		return s.OwnerOf(ctx, ObjectMeasurement, tr.MeasurementID)
	case ObjectContactPolicy:
		var cp ContactPolicy
		if err := s.db.WithContext(ctx).
			Select("id", "environment_id").
			First(&cp, objectID).Error; err != nil {
			return "", fmt.Errorf("getting contact policy: %w", err)
		}

		return environmentOwner(s.db.WithContext(ctx), cp.EnvironmentID)
	default:
		return "", fmt.Errorf("unknown object type %q", objectType)
	}
}

// VisibleEnvironmentIDs returns the ids of environments the principal may
// view. Staff principals see everything.
func (s *store) VisibleEnvironmentIDs(
	ctx context.Context, p *Principal,
) ([]uint, error) {
	var ids []uint

	if p != nil && p.Staff {
		if err := s.db.WithContext(ctx).
			Model(&Environment{}).
			Order("id ASC").
			Pluck("id", &ids).Error; err != nil {
			return nil, fmt.Errorf("listing environment ids: %w", err)
		}

		return ids, nil
	}

	if err := s.db.WithContext(ctx).
		Model(&Grant{}).
		Distinct("object_id").
		Where("group_name IN ? AND action = ? AND object_type = ?",
			groupsOf(p), ActionView, ObjectEnvironment).
		Order("object_id ASC").
		Pluck("object_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("listing visible environments: %w", err)
	}

	return ids, nil
}

// SetPublic grants public view access to an environment, its measurements,
// runs, and results, and recursively to its predecessors.
func (s *store) SetPublic(ctx context.Context, environmentID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return setPublicTx(tx, environmentID, true)
	})
}

// SetPrivate removes public view access from an environment and its
// derived objects, recursively through its predecessors.
func (s *store) SetPrivate(ctx context.Context, environmentID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return setPublicTx(tx, environmentID, false)
	})
}

func setPublicTx(tx *gorm.DB, environmentID uint, public bool) error {
	apply := func(objectType string, objectID uint) error {
		if public {
			return assignGrant(tx, PublicGroup, ActionView, objectType, objectID)
		}

		return removeGrant(tx, PublicGroup, ActionView, objectType, objectID)
	}

	var env Environment
	if err := tx.First(&env, environmentID).Error; err != nil {
		return fmt.Errorf("getting environment: %w", err)
	}

	if err := apply(ObjectEnvironment, env.ID); err != nil {
		return err
	}

	var measurementIDs []uint
	if err := tx.Model(&Measurement{}).
		Where("environment_id = ?", env.ID).
		Pluck("id", &measurementIDs).Error; err != nil {
		return fmt.Errorf("listing measurement ids: %w", err)
	}

	for _, id := range measurementIDs {
		if err := apply(ObjectMeasurement, id); err != nil {
			return err
		}
	}

	var runIDs []uint
	if err := tx.Model(&TestRun{}).
		Where("environment_id = ?", env.ID).
		Pluck("id", &runIDs).Error; err != nil {
		return fmt.Errorf("listing run ids: %w", err)
	}

	for _, runID := range runIDs {
		if err := apply(ObjectTestRun, runID); err != nil {
			return err
		}

		var resultIDs []uint
		if err := tx.Model(&TestResult{}).
			Where("test_run_id = ?", runID).
			Pluck("id", &resultIDs).Error; err != nil {
			return fmt.Errorf("listing result ids: %w", err)
		}

		for _, id := range resultIDs {
			if err := apply(ObjectTestResult, id); err != nil {
				return err
			}
		}
	}

	if env.PredecessorID != nil {
		return setPublicTx(tx, *env.PredecessorID, public)
	}

	return nil
}

// assignGrant idempotently records a grant.
func assignGrant(
	tx *gorm.DB, group, action, objectType string, objectID uint,
) error {
	g := Grant{
		GroupName:  group,
		Action:     action,
		ObjectType: objectType,
		ObjectID:   objectID,
	}

	if err := tx.Where(&g).FirstOrCreate(&g).Error; err != nil {
		return fmt.Errorf("assigning grant: %w", err)
	}

	return nil
}

func removeGrant(
	tx *gorm.DB, group, action, objectType string, objectID uint,
) error {
	if err := tx.
		Where("group_name = ? AND action = ? AND object_type = ? AND object_id = ?",
			group, action, objectType, objectID).
		Delete(&Grant{}).Error; err != nil {
		return fmt.Errorf("removing grant: %w", err)
	}

	return nil
}

// assignOwnerGrants records view/change/delete grants for the owner group
// of a freshly saved object. A save with no owner group assigns nothing,
// which denies by default.
func assignOwnerGrants(
	tx *gorm.DB, group, objectType string, objectID uint,
) error {
	if group == "" {
		return nil
	}

	for _, action := range []string{ActionView, ActionChange, ActionDelete} {
		if err := assignGrant(tx, group, action, objectType, objectID); err != nil {
			return err
		}
	}

	return nil
}

// propagatePublicGrant mirrors the environment's public visibility onto a
// newly created derived object.
func propagatePublicGrant(
	tx *gorm.DB, environmentID uint, objectType string, objectID uint,
) error {
	var count int64
	if err := tx.Model(&Grant{}).
		Where("group_name = ? AND action = ? AND object_type = ? AND object_id = ?",
			PublicGroup, ActionView, ObjectEnvironment, environmentID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("checking public visibility: %w", err)
	}

	if count == 0 {
		return nil
	}

	return assignGrant(tx, PublicGroup, ActionView, objectType, objectID)
}

// clearEnvironmentWriteGrants removes change/delete grants on an
// environment and its measurements once it has recorded results.
func clearEnvironmentWriteGrants(tx *gorm.DB, environmentID uint) error {
	owner, err := environmentOwner(tx, environmentID)
	if err != nil {
		return err
	}

	if owner == "" {
		return nil
	}

	for _, action := range []string{ActionChange, ActionDelete} {
		if err := removeGrant(
			tx, owner, action, ObjectEnvironment, environmentID,
		); err != nil {
			return err
		}
	}

	var measurementIDs []uint
	if err := tx.Model(&Measurement{}).
		Where("environment_id = ?", environmentID).
		Pluck("id", &measurementIDs).Error; err != nil {
		return fmt.Errorf("listing measurement ids: %w", err)
	}

	for _, id := range measurementIDs {
		for _, action := range []string{ActionChange, ActionDelete} {
			if err := removeGrant(tx, owner, action, ObjectMeasurement, id); err != nil {
				return err
			}
		}
	}

	return nil
}

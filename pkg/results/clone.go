package results

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CloneEnvironment creates a successor copy of an environment. The clone
// receives a fresh uuid, points at the original through PredecessorID, and
// takes over the original's contact policy, measurements (with their
// parameters), and subscriptions. The whole operation runs in one
// transaction; the unique index on PredecessorID rejects a concurrent
// second clone of the same environment.
func (s *store) CloneEnvironment(
	ctx context.Context, id uint,
) (*Environment, error) {
	var clone *Environment

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var src Environment
		if err := tx.First(&src, id).Error; err != nil {
			return fmt.Errorf("getting environment: %w", err)
		}

		var successors int64
		if err := tx.Model(&Environment{}).
			Where("predecessor_id = ?", src.ID).
			Count(&successors).Error; err != nil {
			return fmt.Errorf("counting successors: %w", err)
		}

		if successors > 0 {
			return ErrHasSuccessor
		}

		next := src
		next.ID = 0
		next.UUID = uuid.NewString()
		next.PredecessorID = &src.ID
		next.CreatedAt = time.Time{}

		if err := tx.Create(&next).Error; err != nil {
			return fmt.Errorf("creating clone: %w", err)
		}

		if err := assignOwnerGrants(
			tx, next.OwnerGroup, ObjectEnvironment, next.ID,
		); err != nil {
			return err
		}

		// The original is now immutable history.
		if err := clearEnvironmentWriteGrants(tx, src.ID); err != nil {
			return err
		}

		if err := cloneContactPolicy(tx, src.ID, next.ID); err != nil {
			return err
		}

		if err := cloneMeasurements(tx, &src, &next); err != nil {
			return err
		}

		// Existing subscriptions follow the active version.
		if err := tx.Model(&Subscription{}).
			Where("environment_id = ?", src.ID).
			Update("environment_id", next.ID).Error; err != nil {
			return fmt.Errorf("re-parenting subscriptions: %w", err)
		}

		clone = &next

		return nil
	})
	if err != nil {
		return nil, err
	}

	return clone, nil
}

func cloneContactPolicy(tx *gorm.DB, srcEnvID, dstEnvID uint) error {
	var cp ContactPolicy

	err := tx.Where("environment_id = ?", srcEnvID).First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("getting contact policy: %w", err)
	}

	next := cp
	next.ID = 0
	next.EnvironmentID = dstEnvID

	if err := tx.Create(&next).Error; err != nil {
		return fmt.Errorf("cloning contact policy: %w", err)
	}

	return nil
}

func cloneMeasurements(tx *gorm.DB, src, dst *Environment) error {
	var measurements []Measurement
	if err := tx.Preload("Parameters").
		Where("environment_id = ?", src.ID).
		Find(&measurements).Error; err != nil {
		return fmt.Errorf("listing measurements: %w", err)
	}

	for i := range measurements {
		m := measurements[i]

		next := Measurement{
			Name:           m.Name,
			Unit:           m.Unit,
			HigherIsBetter: m.HigherIsBetter,
			EnvironmentID:  dst.ID,
			TestCaseID:     m.TestCaseID,
		}

		if err := tx.Create(&next).Error; err != nil {
			return fmt.Errorf("cloning measurement: %w", err)
		}

		for _, p := range m.Parameters {
			np := Parameter{
				Name:          p.Name,
				Unit:          p.Unit,
				Value:         p.Value,
				MeasurementID: next.ID,
			}

			if err := tx.Create(&np).Error; err != nil {
				return fmt.Errorf("cloning parameter: %w", err)
			}
		}

		if err := assignOwnerGrants(
			tx, dst.OwnerGroup, ObjectMeasurement, next.ID,
		); err != nil {
			return err
		}
	}

	return nil
}

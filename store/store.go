// Package store is the durable persistence layer: monitored listings,
// snipe targets, execution history, and the scheduler's workflow-run /
// step-result tables, behind a transactional session abstraction.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nlarkins/mexc-sniper/apperr"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Store wraps a GORM connection and exposes the core's fixed operation set
// — no ad-hoc queries outside this package.
type Store struct {
	db *gorm.DB
}

// Open connects according to databaseURL's scheme: "sqlite://path" opens a
// local SQLite file (the spec's fallback path when no server DSN is
// configured); anything else is treated as a MySQL DSN.
func Open(databaseURL string) (*Store, error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"):
		dialector = sqlite.Open(strings.TrimPrefix(databaseURL, "sqlite://"))
	case databaseURL == "":
		dialector = sqlite.Open("sniper.db")
	default:
		dialector = mysql.Open(strings.TrimPrefix(databaseURL, "mysql://"))
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("underlying db: %w", err)
	}
	return sqlDB.Close()
}

// withinTransaction runs fn inside a transaction: commits on nil return,
// rolls back otherwise. Every public write operation below goes through it.
func (s *Store) withinTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// isUniqueViolation reports whether err represents a unique-key conflict —
// the signal that a concurrent creator won the race on vcoin_id.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "duplicate key")
}

// ─── Monitored Listings ──────────────────────────────────────

func (s *Store) GetListingByVcoin(ctx context.Context, vcoinID string) (*MonitoredListing, error) {
	var l MonitoredListing
	err := s.db.WithContext(ctx).Where("vcoin_id = ?", vcoinID).First(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBUnavailable, "get listing by vcoin", err)
	}
	return &l, nil
}

// CreateListing inserts a new listing. A unique-key conflict (another
// caller created it first) is treated as success-no-op per the spec.
func (s *Store) CreateListing(ctx context.Context, l *MonitoredListing) error {
	l.Status = ListingStatusMonitoring
	err := s.withinTransaction(ctx, func(tx *gorm.DB) error {
		return tx.Create(l).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return apperr.Wrap(apperr.KindDBUnavailable, "create listing", err)
	}
	return nil
}

func (s *Store) ListMonitoringListings(ctx context.Context) ([]MonitoredListing, error) {
	var listings []MonitoredListing
	err := s.db.WithContext(ctx).Where("status = ?", ListingStatusMonitoring).Find(&listings).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBUnavailable, "list monitoring listings", err)
	}
	return listings, nil
}

func (s *Store) CountListingsByStatus(ctx context.Context, status ListingStatus) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&MonitoredListing{}).Where("status = ?", status).Count(&count).Error
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDBUnavailable, "count listings", err)
	}
	return count, nil
}

// ─── Snipe Targets ───────────────────────────────────────────

func (s *Store) GetTargetByVcoin(ctx context.Context, vcoinID string) (*SnipeTarget, error) {
	var t SnipeTarget
	err := s.db.WithContext(ctx).Where("vcoin_id = ?", vcoinID).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBUnavailable, "get target by vcoin", err)
	}
	return &t, nil
}

func (s *Store) GetTargetByID(ctx context.Context, id uint64) (*SnipeTarget, error) {
	var t SnipeTarget
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBUnavailable, "get target by id", err)
	}
	return &t, nil
}

// CreateTargetAndAdvanceListing creates the target and transitions the
// listing to "ready" within a single transaction, per the ready-target
// policy (§ 4.D). A unique-key conflict on vcoin_id is a no-op success.
func (s *Store) CreateTargetAndAdvanceListing(ctx context.Context, t *SnipeTarget) error {
	t.ExecutionStatus = TargetStatusPending
	err := s.withinTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(t).Error; err != nil {
			return err
		}
		return tx.Model(&MonitoredListing{}).
			Where("vcoin_id = ?", t.VcoinID).
			Update("status", ListingStatusReady).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return apperr.Wrap(apperr.KindDBUnavailable, "create target", err)
	}
	return nil
}

func (s *Store) UpdateTargetStatus(ctx context.Context, id uint64, status TargetStatus, response string, executedAt *time.Time) error {
	updates := map[string]interface{}{"execution_status": status}
	if response != "" {
		updates["execution_response"] = response
	}
	if executedAt != nil {
		updates["executed_at_utc"] = *executedAt
	}
	err := s.withinTransaction(ctx, func(tx *gorm.DB) error {
		return tx.Model(&SnipeTarget{}).Where("id = ?", id).Updates(updates).Error
	})
	if err != nil {
		return apperr.Wrap(apperr.KindDBUnavailable, "update target status", err)
	}
	return nil
}

func (s *Store) ListPendingTargets(ctx context.Context) ([]SnipeTarget, error) {
	var targets []SnipeTarget
	err := s.db.WithContext(ctx).
		Where("execution_status IN ?", []TargetStatus{TargetStatusPending, TargetStatusScheduled}).
		Find(&targets).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBUnavailable, "list pending targets", err)
	}
	return targets, nil
}

func (s *Store) CountTargetsPendingOrScheduled(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&SnipeTarget{}).
		Where("execution_status IN ?", []TargetStatus{TargetStatusPending, TargetStatusScheduled}).
		Count(&count).Error
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDBUnavailable, "count pending targets", err)
	}
	return count, nil
}

// ─── Execution History ───────────────────────────────────────

func (s *Store) AppendExecutionHistory(ctx context.Context, h *ExecutionHistory) error {
	err := s.withinTransaction(ctx, func(tx *gorm.DB) error {
		return tx.Create(h).Error
	})
	if err != nil {
		return apperr.Wrap(apperr.KindDBUnavailable, "append execution history", err)
	}
	return nil
}

// ─── Workflow runs & step results ────────────────────────────

func (s *Store) CreateWorkflowRun(ctx context.Context, run *WorkflowRun) error {
	err := s.withinTransaction(ctx, func(tx *gorm.DB) error {
		return tx.Create(run).Error
	})
	if err != nil {
		return apperr.Wrap(apperr.KindDBUnavailable, "create workflow run", err)
	}
	return nil
}

func (s *Store) UpdateWorkflowRunStatus(ctx context.Context, runID, status string) error {
	err := s.withinTransaction(ctx, func(tx *gorm.DB) error {
		return tx.Model(&WorkflowRun{}).Where("run_id = ?", runID).Update("status", status).Error
	})
	if err != nil {
		return apperr.Wrap(apperr.KindDBUnavailable, "update workflow run status", err)
	}
	return nil
}

// GetStepResult returns the persisted result for (runID, stepName), or nil
// if the step has not completed yet — the replay-from-store check.
func (s *Store) GetStepResult(ctx context.Context, runID, stepName string) (*StepResult, error) {
	var r StepResult
	err := s.db.WithContext(ctx).Where("run_id = ? AND step_name = ?", runID, stepName).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBUnavailable, "get step result", err)
	}
	return &r, nil
}

// SaveStepResult persists a completed step's result. A conflict (the step
// was already recorded by a concurrent replay) is a no-op success.
func (s *Store) SaveStepResult(ctx context.Context, r *StepResult) error {
	err := s.withinTransaction(ctx, func(tx *gorm.DB) error {
		return tx.Create(r).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return apperr.Wrap(apperr.KindDBUnavailable, "save step result", err)
	}
	return nil
}

// ─── Credentials ─────────────────────────────────────────────

func (s *Store) GetCredential(ctx context.Context, exchange string) (*APICredential, error) {
	var c APICredential
	err := s.db.WithContext(ctx).Where("exchange = ?", exchange).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBUnavailable, "get credential", err)
	}
	return &c, nil
}

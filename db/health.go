package db

import (
	"context"

	"github.com/doug-martin/goqu/v9"
)

// TableHealth is a bit set summarizing rows that need attention
type TableHealth int

const (
	HealthClean          TableHealth = 0
	HealthHasConflicts   TableHealth = 1
	HealthHasCheckpoints TableHealth = 2
)

func (h TableHealth) HasConflicts() bool   { return h&HealthHasConflicts != 0 }
func (h TableHealth) HasCheckpoints() bool { return h&HealthHasCheckpoints != 0 }

// GetTableHealth reports whether tableID holds checkpoints or conflicts
func (s *Store) GetTableHealth(ctx context.Context, tableID string) (TableHealth, error) {
	health := HealthClean
	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.columnsInTx(ctx, tableID); err != nil {
			return err
		}

		checkpoints, err := s.queryInt(ctx, s.dialect.From(tableID).
			Select(goqu.COUNT(goqu.Star())).
			Where(goqu.C(ColSavepointType).IsNull()).
			Prepared(true))
		if err != nil {
			return err
		}
		if checkpoints > 0 {
			health |= HealthHasCheckpoints
		}

		conflicts, err := s.queryInt(ctx, s.dialect.From(tableID).
			Select(goqu.COUNT(goqu.Star())).
			Where(goqu.C(ColConflictType).IsNotNull()).
			Prepared(true))
		if err != nil {
			return err
		}
		if conflicts > 0 {
			health |= HealthHasConflicts
		}
		return nil
	})
	return health, err
}

// TableHealthFlags adapts GetTableHealth for the periodic health collector
func (s *Store) TableHealthFlags(ctx context.Context, tableID string) (bool, bool, error) {
	h, err := s.GetTableHealth(ctx, tableID)
	if err != nil {
		return false, false, err
	}
	return h.HasCheckpoints(), h.HasConflicts(), nil
}

package db

import (
	"context"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/doug-martin/goqu/v9"
)

// SetChoiceList stores a choice list and returns its content-derived id.
// Storing the same JSON twice yields the same id. Blank JSON stores nothing
// and returns "".
func (s *Store) SetChoiceList(ctx context.Context, choiceListJSON string) (string, error) {
	if strings.TrimSpace(choiceListJSON) == "" {
		return "", nil
	}
	id := choiceListID(choiceListJSON)
	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		_, err := s.exec(ctx, s.dialect.Insert(TableChoiceList).
			Rows(goqu.Record{
				colChoiceListID:   id,
				colChoiceListJSON: choiceListJSON,
			}).
			OnConflict(goqu.DoNothing()).
			Prepared(true))
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetChoiceList returns the JSON stored under id; false when unknown
func (s *Store) GetChoiceList(ctx context.Context, id string) (string, bool, error) {
	if strings.TrimSpace(id) == "" {
		return "", false, nil
	}
	var (
		out   string
		found bool
	)
	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		rows, err := s.queryMaps(ctx, s.dialect.From(TableChoiceList).
			Select(colChoiceListJSON).
			Where(goqu.C(colChoiceListID).Eq(id)).
			Prepared(true))
		if err != nil || len(rows) == 0 {
			return err
		}
		out, found = stringOf(rows[0][colChoiceListJSON]), true
		return nil
	})
	return out, found, err
}

func choiceListID(choiceListJSON string) string {
	return strconv.FormatUint(xxhash.Sum64String(choiceListJSON), 16)
}

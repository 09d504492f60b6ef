package db

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
)

// SyncETag caches the server etag of a file or manifest so unchanged
// content is not fetched again. An empty TableID marks an app-level entry.
type SyncETag struct {
	TableID      string
	IsManifest   bool
	URL          string
	LastModified string
	ETag         string
}

func syncETagWhere(tableID, url string, isManifest bool) []exp.Expression {
	where := []exp.Expression{
		goqu.C(colURL).Eq(url),
		goqu.C(colIsManifest).Eq(boolInt(isManifest)),
	}
	if tableID == "" {
		return append(where, goqu.C(colTableID).IsNull())
	}
	return append(where, goqu.C(colTableID).Eq(tableID))
}

// UpdateSyncETag replaces the entry for (table, url, manifest). A blank
// LastModified is stamped with the current savepoint time.
func (s *Store) UpdateSyncETag(ctx context.Context, e SyncETag) error {
	if strings.TrimSpace(e.URL) == "" {
		return InvalidArgumentError{Op: "sync etag", Reason: "url is empty"}
	}
	if strings.TrimSpace(e.ETag) == "" {
		return InvalidArgumentError{Op: "sync etag", Reason: "etag is empty"}
	}
	if e.LastModified == "" {
		e.LastModified = s.now()
	}
	return s.RunInTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.exec(ctx, s.dialect.Delete(TableSyncETags).
			Where(syncETagWhere(e.TableID, e.URL, e.IsManifest)...).
			Prepared(true)); err != nil {
			return err
		}
		_, err := s.exec(ctx, s.dialect.Insert(TableSyncETags).
			Rows(goqu.Record{
				colTableID:      nullableText(stringPtrOrNil(e.TableID)),
				colIsManifest:   boolInt(e.IsManifest),
				colURL:          e.URL,
				colLastModified: e.LastModified,
				colETag:         e.ETag,
			}).
			Prepared(true))
		return err
	})
}

// GetSyncETag returns the cached entry; false when none is recorded
func (s *Store) GetSyncETag(ctx context.Context, tableID, url string, isManifest bool) (SyncETag, bool, error) {
	var (
		out   SyncETag
		found bool
	)
	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		rows, err := s.queryMaps(ctx, s.dialect.From(TableSyncETags).
			Select(colTableID, colIsManifest, colURL, colLastModified, colETag).
			Where(syncETagWhere(tableID, url, isManifest)...).
			Order(goqu.C(colSyncETagID).Desc()).
			Limit(1).
			Prepared(true))
		if err != nil || len(rows) == 0 {
			return err
		}
		r := rows[0]
		out = SyncETag{
			TableID:      stringOf(r[colTableID]),
			IsManifest:   isManifest,
			URL:          stringOf(r[colURL]),
			LastModified: stringOf(r[colLastModified]),
			ETag:         stringOf(r[colETag]),
		}
		found = true
		return nil
	})
	return out, found, err
}

// DeleteAllSyncETagsForTable forgets every cached etag of tableID
func (s *Store) DeleteAllSyncETagsForTable(ctx context.Context, tableID string) error {
	return s.RunInTransaction(ctx, func(ctx context.Context) error {
		_, err := s.exec(ctx, s.dialect.Delete(TableSyncETags).
			Where(goqu.C(colTableID).Eq(tableID)).
			Prepared(true))
		return err
	})
}

// DeleteAllSyncETagsUnderServer forgets every cached etag whose url starts
// with uriPrefix.
func (s *Store) DeleteAllSyncETagsUnderServer(ctx context.Context, uriPrefix string) error {
	return s.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.deleteAllSyncETagsUnderServer(ctx, uriPrefix)
	})
}

// deleteAllSyncETagsUnderServer is a no-op for an empty prefix
func (s *Store) deleteAllSyncETagsUnderServer(ctx context.Context, uriPrefix string) error {
	if uriPrefix == "" {
		return nil
	}
	_, err := s.exec(ctx, s.dialect.Delete(TableSyncETags).
		Where(goqu.L("substr(?, 1, ?) = ?", goqu.C(colURL), utf8.RuneCountInString(uriPrefix), uriPrefix)).
		Prepared(true))
	return err
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func stringPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

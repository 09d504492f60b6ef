package attachments

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/rs/zerolog/log"
)

// Purger removes attachment files belonging to rows and tables.
// Implementations must be idempotent: purging something already gone is not an error.
type Purger interface {
	PurgeRow(tableID, rowID string) error
	PurgeTable(tableID string) error
}

var unsafeRowIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeRowID maps a row identifier to a directory name.
// Characters outside [A-Za-z0-9_-] become '_' so "uuid:..." ids are path safe.
func SanitizeRowID(rowID string) string {
	return unsafeRowIDChars.ReplaceAllString(rowID, "_")
}

// FilesystemPurger lays attachments out as
// <root>/tables/<tableId>/instances/<sanitized rowId>/...
type FilesystemPurger struct {
	root string
}

// NewFilesystemPurger creates a purger rooted at root
func NewFilesystemPurger(root string) *FilesystemPurger {
	return &FilesystemPurger{root: root}
}

// TableDir returns the attachment directory for a table
func (p *FilesystemPurger) TableDir(tableID string) string {
	return filepath.Join(p.root, "tables", tableID)
}

// InstanceDir returns the attachment directory for a row
func (p *FilesystemPurger) InstanceDir(tableID, rowID string) string {
	return filepath.Join(p.TableDir(tableID), "instances", SanitizeRowID(rowID))
}

// PurgeRow deletes every attachment stored for the row
func (p *FilesystemPurger) PurgeRow(tableID, rowID string) error {
	dir := p.InstanceDir(tableID, rowID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete instance folder %s: %w", dir, err)
	}
	log.Debug().Str("table", tableID).Str("row_id", rowID).Msg("Purged row attachments")
	return nil
}

// PurgeTable deletes the table's whole attachment tree
func (p *FilesystemPurger) PurgeTable(tableID string) error {
	dir := p.TableDir(tableID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete table folder %s: %w", dir, err)
	}
	log.Debug().Str("table", tableID).Msg("Purged table attachments")
	return nil
}

// NoopPurger discards purge requests. Used when attachments are not managed locally.
type NoopPurger struct{}

func (NoopPurger) PurgeRow(string, string) error { return nil }
func (NoopPurger) PurgeTable(string) error       { return nil }

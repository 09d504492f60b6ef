package db

import (
	"context"
	"strconv"
	"strings"

	"github.com/maxpert/fieldsync/telemetry"
	"github.com/rs/zerolog/log"
)

// Role is a privilege granted to a caller by the external collaborator that
// authenticates users.
type Role string

const (
	RoleSuperUser     Role = "ROLE_SUPER_USER_TABLES"
	RoleAdministrator Role = "ROLE_ADMINISTER_TABLES"
)

// RoleSet is the set of roles a caller holds. An empty set means the
// caller is unverified.
type RoleSet map[Role]struct{}

// NewRoleSet builds a RoleSet, ignoring blank names
func NewRoleSet(roles ...string) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r != "" {
			set[Role(r)] = struct{}{}
		}
	}
	return set
}

func (rs RoleSet) Has(role Role) bool {
	_, ok := rs[role]
	return ok
}

// Verified reports whether the caller's identity was verified
func (rs RoleSet) Verified() bool { return len(rs) > 0 }

// Elevated reports whether the set holds a super-user or administrator role
func (rs RoleSet) Elevated() bool {
	return rs.Has(RoleSuperUser) || rs.Has(RoleAdministrator)
}

// Caller identifies who is performing an operation
type Caller struct {
	User  string
	Roles RoleSet
}

// AdminCaller returns a caller holding both elevated roles. Conflict
// resolution uses it for steps that apply server-dictated values.
func AdminCaller(user string) Caller {
	return Caller{User: user, Roles: NewRoleSet(string(RoleSuperUser), string(RoleAdministrator))}
}

// RowChange is the kind of mutation being authorized
type RowChange int

const (
	NewRow RowChange = iota
	ChangeRow
	DeleteRow
)

func (c RowChange) String() string {
	switch c {
	case NewRow:
		return "NEW_ROW"
	case ChangeRow:
		return "CHANGE_ROW"
	case DeleteRow:
		return "DELETE_ROW"
	}
	return "UNKNOWN"
}

const actionModifyFilter = "MODIFY_FILTER"

// Security settings keys in partition "Table", aspect "security"
const (
	KeyLocked                  = "locked"
	KeyUnverifiedUserCanCreate = "unverifiedUserCanCreate"
	KeyFilterTypeOnCreation    = "filterTypeOnCreation"
)

// TableSecuritySettings is a table's row-level security policy
type TableSecuritySettings struct {
	TableID                 string
	Locked                  bool
	UnverifiedUserCanCreate bool
	FilterTypeOnCreation    string
}

// DefaultSecuritySettings returns the policy of a table with no security metadata
func DefaultSecuritySettings(tableID string) TableSecuritySettings {
	return TableSecuritySettings{
		TableID:                 tableID,
		Locked:                  false,
		UnverifiedUserCanCreate: true,
		FilterTypeOnCreation:    FilterDefault,
	}
}

func (t TableSecuritySettings) deny(action, reason string) error {
	telemetry.AuthorizationDenialsTotal.With(action).Inc()
	return NotAuthorizedError{Table: t.TableID, Action: action, Reason: reason}
}

// CanModifyFilterTypeAndValue allows only verified callers holding an
// elevated role to change a row's filter type or value.
func (t TableSecuritySettings) CanModifyFilterTypeAndValue(caller Caller) error {
	if !caller.Roles.Verified() {
		return t.deny(actionModifyFilter, "unverified users cannot modify filter type or value")
	}
	if !caller.Roles.Elevated() {
		return t.deny(actionModifyFilter, "filter type or value changes require an elevated role")
	}
	return nil
}

// AllowRowChange decides whether caller may apply change to a row whose
// current sync state and prior filter type and value are given. Changes and
// deletes of rows still in new_row are never restricted.
func (t TableSecuritySettings) AllowRowChange(caller Caller, syncState SyncState, priorFilterType, priorFilterValue string, change RowChange) error {
	verified := caller.Roles.Verified()
	elevated := caller.Roles.Elevated()
	owner := priorFilterValue != "" && priorFilterValue == caller.User

	switch change {
	case NewRow:
		if t.Locked {
			if !verified {
				return t.deny(change.String(), "unverified users cannot create rows in a locked table")
			}
			if !elevated {
				return t.deny(change.String(), "creating rows in a locked table requires an elevated role")
			}
			return nil
		}
		if !verified && !t.UnverifiedUserCanCreate {
			return t.deny(change.String(), "unverified users cannot create rows in this table")
		}
		return nil

	case ChangeRow:
		if syncState == SyncStateNewRow {
			return nil
		}
		if t.Locked {
			if !verified {
				return t.deny(change.String(), "unverified users cannot modify rows in a locked table")
			}
			if owner || elevated {
				return nil
			}
			return t.deny(change.String(), "modifying rows in a locked table requires ownership or an elevated role")
		}
		if priorFilterType == FilterModify || priorFilterType == FilterDefault {
			return nil
		}
		if owner || elevated {
			return nil
		}
		return t.deny(change.String(), "row filter type does not permit modification")

	case DeleteRow:
		if syncState == SyncStateNewRow {
			return nil
		}
		if t.Locked {
			if !verified {
				return t.deny(change.String(), "unverified users cannot delete rows in a locked table")
			}
			if owner || elevated {
				return nil
			}
			return t.deny(change.String(), "deleting rows in a locked table requires ownership or an elevated role")
		}
		if priorFilterType == FilterDefault {
			return nil
		}
		if owner || elevated {
			return nil
		}
		return t.deny(change.String(), "row filter type does not permit deletion")
	}
	return t.deny(change.String(), "unknown row change")
}

// securitySettings reads the table's policy through the xsync cache
func (s *Store) securitySettings(ctx context.Context, tableID string) (TableSecuritySettings, error) {
	if tss, ok := s.security.Load(tableID); ok {
		return tss, nil
	}

	partition, aspect := PartitionTable, AspectSecurity
	entries, err := s.getMetadata(ctx, tableID, &partition, &aspect, nil)
	if err != nil {
		return TableSecuritySettings{}, err
	}

	tss := DefaultSecuritySettings(tableID)
	for _, e := range entries {
		switch e.Key {
		case KeyLocked:
			tss.Locked = parseSecurityBool(tableID, e, tss.Locked)
		case KeyUnverifiedUserCanCreate:
			tss.UnverifiedUserCanCreate = parseSecurityBool(tableID, e, tss.UnverifiedUserCanCreate)
		case KeyFilterTypeOnCreation:
			if v := strings.TrimSpace(e.Value); v != "" {
				tss.FilterTypeOnCreation = v
			}
		}
	}

	s.security.Store(tableID, tss)
	return tss, nil
}

// GetTableSecuritySettings returns the table's row-level security policy
func (s *Store) GetTableSecuritySettings(ctx context.Context, tableID string) (TableSecuritySettings, error) {
	var tss TableSecuritySettings
	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		tss, err = s.securitySettings(ctx, tableID)
		return err
	})
	return tss, err
}

// invalidateSecurity drops the cached policy now and when the surrounding
// transaction ends.
func (s *Store) invalidateSecurity(ctx context.Context, tableID string) {
	s.security.Delete(tableID)
	onTransactionFinish(ctx, func() {
		s.security.Delete(tableID)
	})
}

func parseSecurityBool(tableID string, e KeyValueStoreEntry, fallback bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(e.Value))
	if err != nil {
		log.Warn().
			Str("table", tableID).
			Str("key", e.Key).
			Str("value", e.Value).
			Msg("Ignoring unparseable security setting")
		return fallback
	}
	return b
}

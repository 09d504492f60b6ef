package db

import (
	"database/sql"

	"github.com/rs/zerolog/log"
)

// EnhancedRows closes a result set and logs instead of returning the error
type EnhancedRows struct {
	*sql.Rows
}

func (rs *EnhancedRows) Finalize() {
	err := rs.Close()
	if err != nil {
		log.Error().Err(err).Msg("Unable to close result set")
	}
}

func stringOf(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	}
	return ""
}

package errors

import (
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// constraint kinds the driver reports through the extended code
var constraintCodes = map[sqlite3.ErrNoExtended]ErrorCode{
	sqlite3.ErrConstraintUnique:     ErrCodeDuplicate,
	sqlite3.ErrConstraintPrimaryKey: ErrCodeDuplicate,
	sqlite3.ErrConstraintForeignKey: ErrCodeConstraint,
	sqlite3.ErrConstraintCheck:      ErrCodeConstraint,
	sqlite3.ErrConstraintNotNull:    ErrCodeConstraint,
	sqlite3.ErrConstraintTrigger:    ErrCodeConstraint,
	sqlite3.ErrConstraintRowID:      ErrCodeConstraint,
}

var primaryCodes = map[sqlite3.ErrNo]ErrorCode{
	sqlite3.ErrBusy:     ErrCodeBusy,
	sqlite3.ErrLocked:   ErrCodeBusy,
	sqlite3.ErrCantOpen: ErrCodeConnection,
	sqlite3.ErrIoErr:    ErrCodeConnection,
	sqlite3.ErrFull:     ErrCodeDiskSpace,
	sqlite3.ErrCorrupt:  ErrCodeCorruption,
	sqlite3.ErrNotADB:   ErrCodeCorruption,
	sqlite3.ErrPerm:     ErrCodePermission,
	sqlite3.ErrAuth:     ErrCodePermission,
	sqlite3.ErrReadonly: ErrCodePermission,
	sqlite3.ErrSchema:   ErrCodeSchema,
	sqlite3.ErrMisuse:   ErrCodeInternal,
}

// classifySQLiteError returns ErrCodeUnknown for anything the driver did not raise
func classifySQLiteError(err error) ErrorCode {
	var driverErr sqlite3.Error
	if !errors.As(err, &driverErr) {
		return ErrCodeUnknown
	}
	if driverErr.Code == sqlite3.ErrConstraint {
		return constraintKind(driverErr)
	}
	if code, ok := primaryCodes[driverErr.Code]; ok {
		return code
	}
	return ErrCodeUnknown
}

// constraintKind splits duplicates from other violations. Older builds leave
// the extended code unset, so the message is the fallback.
func constraintKind(e sqlite3.Error) ErrorCode {
	if code, ok := constraintCodes[e.ExtendedCode]; ok {
		return code
	}
	if strings.Contains(strings.ToLower(e.Error()), "unique") {
		return ErrCodeDuplicate
	}
	return ErrCodeConstraint
}

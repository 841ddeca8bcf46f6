package change

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// LSN is a 64-bit, strictly monotone log sequence number within a
// single replication slot. The zero value, LSNZero, is a reserved
// sentinel strictly lower than any real WAL position; backfill uses
// it to tag synthesized insert events (spec.md 4.10).
type LSN uint64

// LSNZero is the reserved backfill sentinel.
const LSNZero LSN = 0

// Compare returns -1, 0, or 1 as a is less than, equal to, or greater
// than b.
func Compare(a, b LSN) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Max returns the greater of a and b.
func Max(a, b LSN) LSN {
	if a > b {
		return a
	}
	return b
}

// Min returns the lesser of a and b.
func Min(a, b LSN) LSN {
	if a < b {
		return a
	}
	return b
}

// String renders the LSN in Postgres's canonical "X/Y" hex form.
func (l LSN) String() string {
	return fmt.Sprintf("%X/%X", uint64(l)>>32, uint64(l)&0xFFFFFFFF)
}

// ParseLSN parses Postgres's canonical "X/Y" hex form back into an
// LSN.
func ParseLSN(s string) (LSN, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0, errors.Errorf("malformed lsn %q", s)
	}
	hi, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "malformed lsn %q", s)
	}
	lo, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "malformed lsn %q", s)
	}
	return LSN(hi<<32 | lo), nil
}

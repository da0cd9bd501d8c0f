package metadatatest

import (
	"time"

	"github.com/tracdap/trac-core/internal/errors"
)

// assign copies src into the pointer dest, covering the handful of
// column types internal/metadata scans: the in-memory fake stands in
// for pgx's own reflection-based row scanning, so it only needs to
// support the types this package's own SELECTs actually produce.
func assign(dest any, src any) error {
	switch d := dest.(type) {
	case *int64:
		*d = src.(int64)
	case *int:
		*d = src.(int)
	case *string:
		*d = src.(string)
	case *bool:
		*d = src.(bool)
	case *time.Time:
		*d = src.(time.Time)
	case *[16]byte:
		*d = src.([16]byte)
	case *[]byte:
		*d = src.([]byte)
	default:
		return errors.New(errors.ETracInternal, "metadatatest: unsupported scan destination %T", dest)
	}
	return nil
}

package tabular

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/nucleus/fluxion/internal/core"
)

// classify maps driver and network failures onto the pipeline taxonomy.
// connecting is true while a connection is being acquired.
func classify(parent context.Context, err error, connecting bool) error {
	if err == nil {
		return nil
	}
	var ce core.CodedError
	if errors.As(err, &ce) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return core.Timeout(err)
	}
	if parent.Err() != nil {
		return core.Timeout(err)
	}

	if code, ok := sqlState(err); ok {
		switch {
		case code == "57014": // query_canceled
			return core.Timeout(err)
		case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "28"),
			strings.HasPrefix(code, "53"), strings.HasPrefix(code, "57P"):
			return core.Unreachable(err)
		case strings.HasPrefix(code, "42"), strings.HasPrefix(code, "22"):
			return core.SchemaError("", err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return core.Timeout(err)
		}
		return core.Unreachable(err)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || errors.Is(err, driver.ErrBadConn) {
		return core.Unreachable(err)
	}
	if connecting {
		return core.Unreachable(err)
	}
	return err
}

// sqlState extracts the SQLSTATE code from either driver's error type.
func sqlState(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, true
	}
	return "", false
}

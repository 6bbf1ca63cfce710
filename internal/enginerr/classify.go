package enginerr

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	mssql "github.com/microsoft/go-mssqldb"
)

// MySQL/SQL Server error numbers and PostgreSQL SQLSTATE codes for
// authentication and missing-database failures.
const (
	mysqlAccessDenied = 1045
	mysqlUnknownDB    = 1049
	mssqlLoginFailed  = 18456
	mssqlCannotOpenDB = 4060
	pqInvalidPassword = pq.ErrorCode("28P01")
	pqInvalidAuthSpec = pq.ErrorCode("28000")
	pqInvalidCatalog  = pq.ErrorCode("3D000")
)

// Classify maps a driver-level failure onto the engine taxonomy. host and
// database are used only to build the user-facing message; on network
// failures the host is resolved so operators can spot container DNS
// surprises (the configured name silently resolving somewhere unintended).
func Classify(err error, host, database string) *Error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Wrap(KindQueryTimeout, err, "query timed out; the operation may be retried")
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlAccessDenied:
			return Wrap(KindAuth, err, "login failed: check username and password")
		case mysqlUnknownDB:
			return Wrap(KindDatabaseMissing, err, "database %q not found on %s", database, resolvedHost(host))
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqInvalidPassword, pqInvalidAuthSpec:
			return Wrap(KindAuth, err, "login failed: check username and password")
		case pqInvalidCatalog:
			return Wrap(KindDatabaseMissing, err, "database %q not found on %s", database, resolvedHost(host))
		}
	}

	var msErr mssql.Error
	if errors.As(err, &msErr) {
		switch msErr.Number {
		case mssqlLoginFailed:
			return Wrap(KindAuth, err, "login failed: check username and password")
		case mssqlCannotOpenDB:
			return Wrap(KindDatabaseMissing, err, "database %q not found on %s", database, resolvedHost(host))
		}
	}

	// *net.DNSError satisfies net.Error, so it is matched before the
	// generic branch to keep the resolution-specific message.
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Wrap(KindUnreachable, err, "host %q did not resolve: check host and port", host)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Wrap(KindUnreachable, err, "server not reachable (connect timed out): check host and port; %s", resolvedHost(host))
		}
		return Wrap(KindUnreachable, err, "server not reachable: check host and port; %s", resolvedHost(host))
	}

	// Drivers do not always surface structured errors for refused connections.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return Wrap(KindUnreachable, err, "server not reachable: check host and port; %s", resolvedHost(host))
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return Wrap(KindQueryTimeout, err, "query timed out; the operation may be retried")
	}

	return Wrap(KindInternal, err, "query failed")
}

// resolvedHost reports what the configured host currently resolves to.
func resolvedHost(host string) string {
	if host == "" {
		return "no host configured"
	}
	addrs, err := net.LookupHost(host)
	if err != nil || len(addrs) == 0 {
		return "host " + host + " did not resolve"
	}
	return "host " + host + " resolved to " + strings.Join(addrs, ", ")
}

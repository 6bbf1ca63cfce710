package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"pivotgate/internal/dialect"
	"pivotgate/internal/enginerr"
	"pivotgate/internal/pool"
)

// connectionPayload is the wire form of an unsaved connection descriptor.
type connectionPayload struct {
	Type     string `json:"type"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password"`
	TLS      bool   `json:"tls"`
}

func (p connectionPayload) descriptor() (dialect.Descriptor, error) {
	d, err := dialect.Parse(p.Type)
	if err != nil {
		return dialect.Descriptor{}, err
	}
	return dialect.Descriptor{
		Type:     d,
		Host:     p.Host,
		Port:     p.Port,
		Database: p.Database,
		Username: p.User,
		Password: p.Password,
		TLS:      p.TLS,
	}, nil
}

func (a *API) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	var payload connectionPayload
	if !decodeBody(w, r, &payload) {
		return
	}

	desc, err := payload.descriptor()
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	elapsed, err := a.engine.TestConnection(r.Context(), desc)
	if err != nil {
		kind := enginerr.KindOf(err)
		writeJSON(w, statusForKind(kind), errorBody{
			Error:     testFailureMessage(desc, err),
			Kind:      kind.String(),
			Retryable: kind.Retryable(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"elapsed_ms": elapsed,
		"pool":       pool.DisplayKey(desc),
	})
}

// testFailureMessage builds an operator-facing message for a failed
// connection test. For reachability failures it resolves the configured
// host and reports the addresses, since DNS inside a containerized
// deployment can quietly point somewhere unintended.
func testFailureMessage(desc dialect.Descriptor, err error) string {
	msg := enginerr.MessageOf(err)

	switch enginerr.KindOf(err) {
	case enginerr.KindUnreachable:
		return fmt.Sprintf("%s (%s:%d %s)", msg, desc.Host, desc.Port, resolveHint(desc.Host))
	case enginerr.KindDatabaseMissing:
		return fmt.Sprintf("%s: database %q on %s:%d (%s)", msg, desc.Database, desc.Host, desc.Port, resolveHint(desc.Host))
	default:
		return msg
	}
}

func resolveHint(host string) string {
	addrs, err := net.LookupHost(host)
	if err != nil || len(addrs) == 0 {
		return "host did not resolve"
	}
	return "resolved to " + strings.Join(addrs, ", ")
}

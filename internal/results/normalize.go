// Package results canonicalizes terminal capture outcomes and compiles
// them into run reports.
package results

import (
	"strings"

	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/api/schemas"
)

// Canonical groupings for failure contexts that carry no ErrorKind prefix.
const (
	KindStale    = "StaleLink"
	KindCanceled = "Canceled"
	KindOther    = "Other"
)

// NormalizeStatus maps a raw status string to a canonical Status. Anything
// unrecognized counts as a failure; a compliance journal must not report a
// capture it cannot vouch for.
func NormalizeStatus(raw string) schemas.Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ok", "success", "done", "captured", "1", "true":
		return schemas.StatusOK
	default:
		return schemas.StatusError
	}
}

// FailureKind extracts the canonical failure group from a terminal context
// message. Contexts written by the scheduler lead with the ErrorKind name;
// budget exhaustion and cancellation use fixed phrases instead.
func FailureKind(contextMsg string) string {
	msg := strings.TrimSpace(contextMsg)
	if msg == "" {
		return KindOther
	}

	head := msg
	if i := strings.IndexByte(msg, ':'); i >= 0 {
		head = msg[:i]
	}
	switch strings.ToUpper(strings.TrimSpace(head)) {
	case "UNREACHABLELINK":
		return string(schemas.ErrUnreachableLink)
	case "CLOAKDETECTED":
		return string(schemas.ErrCloakDetected)
	case "CAPTUREFAILURE":
		return string(schemas.ErrCaptureFailure)
	case "NOPROXYFORREGION":
		return string(schemas.ErrNoProxyForRegion)
	case "ARCHIVEFAILURE":
		return string(schemas.ErrArchiveFailure)
	}

	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "stale or expired"):
		return KindStale
	case strings.Contains(lower, "cancel"):
		return KindCanceled
	default:
		return KindOther
	}
}

// Package internaldefs holds the shared counter naming table used by the
// exporters. Not intended for direct use by applications.
package internaldefs

import (
	tokenward "github.com/mwhern/tokenward"
)

// CounterDef maps a registry counter to its exported name and help text.
type CounterDef struct {
	ID   tokenward.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter. Order here is presentation order
// in the Prometheus text output.
var CounterDefs = []CounterDef{
	{ID: tokenward.MetricLoginSuccess, Name: "tokenward_login_success_total", Help: "Successful login attempts."},
	{ID: tokenward.MetricLoginFailure, Name: "tokenward_login_failure_total", Help: "Failed login attempts."},
	{ID: tokenward.MetricRefreshSuccess, Name: "tokenward_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: tokenward.MetricRefreshFailure, Name: "tokenward_refresh_failure_total", Help: "Failed refresh attempts."},
	{ID: tokenward.MetricReuseDetected, Name: "tokenward_reuse_detected_total", Help: "Presentations of already-rotated refresh tokens."},
	{ID: tokenward.MetricTokenCreated, Name: "tokenward_token_created_total", Help: "Refresh tokens persisted as active."},
	{ID: tokenward.MetricTokenRevoked, Name: "tokenward_token_revoked_total", Help: "Refresh tokens revoked."},
	{ID: tokenward.MetricSessionEvicted, Name: "tokenward_session_evicted_total", Help: "Sessions evicted by the concurrency limit."},
	{ID: tokenward.MetricRevokeAll, Name: "tokenward_revoke_all_total", Help: "Bulk per-user revocations."},
	{ID: tokenward.MetricLogout, Name: "tokenward_logout_total", Help: "Logout flows."},
	{ID: tokenward.MetricAccessRevoked, Name: "tokenward_access_revoked_total", Help: "Access-token identifiers added to the revocation list."},
	{ID: tokenward.MetricAccessRevocationHit, Name: "tokenward_access_revocation_hit_total", Help: "Access validations rejected by the revocation list."},
	{ID: tokenward.MetricSweepRuns, Name: "tokenward_sweep_runs_total", Help: "Completed expiry sweeps."},
	{ID: tokenward.MetricSweepFailures, Name: "tokenward_sweep_failures_total", Help: "Failed expiry sweeps."},
	{ID: tokenward.MetricSweepDeleted, Name: "tokenward_sweep_deleted_total", Help: "Rows removed by the expiry sweep."},
}

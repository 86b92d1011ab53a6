// Package auth implements credential authentication for the patient portal
// staff accounts.
//
// Login flow:
//   - Service.Login resolves the identifier as a username, then as an email,
//     verifies the bcrypt digest and issues an access/refresh token pair.
//     Unknown identifiers run a dummy compare so timing does not leak account
//     existence.
//   - LockoutPolicy locks an account for a fixed window once the failed
//     attempt counter reaches the configured maximum. Counters and lock state
//     are updated through atomic AccountStore operations so concurrent logins
//     cannot lose a failure.
//
// Sessions:
//   - Access tokens are short lived JWTs (HS256). ResolveCurrentUser also
//     enforces an idle timeout against the account's last activity, and every
//     resolved request advances it. Logout bumps the account session version,
//     and tokens minted under an older version stop resolving.
//
// Audit:
//   - Every security relevant decision emits an AuditEvent. Sinks are best
//     effort: errors are logged and never change an authentication outcome.
//     FileSink, DBSink and MetricsSink can be fanned out with MultiSink and
//     moved off the request path with AsyncSink.
//
// HTTP:
//   - HTTPController exposes the service over go-router, and RegisterAuthRoutes
//     mounts the login, logout, refresh, me and password endpoints plus the
//     admin-only account routes under /auth/accounts.
package auth

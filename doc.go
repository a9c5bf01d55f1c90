// Package tokenward provides the lifecycle core for paired access/refresh
// tokens: HMAC-signed JWT access tokens, server-side rotating refresh tokens,
// and an in-process revocation list consulted on every authenticated request.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// tokenward is the public surface. It exposes [Engine], [Builder], [Config],
// the [RevocationList] implementations, and the audit value types. Persistence
// lives under store/ behind the [store.Store] interface; token signing lives
// under jwt/. HTTP routing, password hashing, and identity storage are caller
// concerns; the Engine reaches them only through [UserDirectory] and
// [AuditSink].
//
// # What this package must NOT do
//
//   - Expose Redis clients, SQL handles, or encoding details in its public API.
//   - Distinguish "token not found" from "token invalid" to callers.
//   - Fail a primary operation because audit recording failed.
package tokenward

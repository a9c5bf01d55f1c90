// Package jwt implements issuing and parsing of HMAC-signed access tokens.
//
// # Token format
//
// Compact JWS, HS256 only. Every token carries a unique jti that pairs it with
// exactly one refresh token and keys revocation lookups. Validity is stateless:
// signature + expiry + claims, no store round-trip.
//
// # Architecture boundaries
//
// This package owns signing, structural validation, and the expired-token
// parse used by refresh flows. Refresh-token pairing, rotation, and revocation
// policy are handled by the Engine.
//
// # What this package must NOT do
//
//   - Access Redis, SQL, or any I/O.
//   - Import tokenward or store.
//   - Accept any signing algorithm other than the configured one.
package jwt

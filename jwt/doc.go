// Package jwt mints and verifies the access/refresh token pair. Both tokens
// carry the user id and username; refresh tokens additionally carry
// isRefreshToken and are never accepted where an access token is expected.
package jwt

// Package auth handles agent credentials and session tokens.
//
// Dashboard agents authenticate their relay connection with an opaque
// session token. The relay resolves tokens through the TokenVerifier
// interface; JWTVerifier is the shipped implementation, minting and
// verifying HS256 JWTs whose "sub" claim carries the agent id.
//
// Password hashing for agent accounts lives here too (bcrypt), used by the
// bootstrap CLI when creating agents.
package auth

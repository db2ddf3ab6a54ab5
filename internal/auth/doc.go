// Package auth provides token issuance/verification and password hashing.
//
// Tokens are HS256-signed JWTs carrying the user id in "sub" and the
// username in a "username" claim. Passwords are hashed with bcrypt; login
// checks burn the same bcrypt work for unknown usernames so response timing
// does not leak which usernames exist.
package auth

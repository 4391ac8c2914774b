// Package secure provides memory-safe handling of the client auth token.
//
// It wraps the memguard library so the token is:
//
//   - Encrypted at rest in memory (XSalsa20Poly1305)
//   - Protected from swapping via mlock
//   - Protected from buffer overflow via guard pages
//
// The token leaves the enclave only for the instant an HTTP request header
// needs it. If mlock is unavailable (e.g. RLIMIT_MEMLOCK), memguard degrades
// to standard memory.
//
// It does NOT protect against attackers with root access to the running
// process or hardware-level attacks.
package secure

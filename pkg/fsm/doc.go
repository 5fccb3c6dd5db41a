// Package fsm implements the command protocol state machine for both roles.
//
// The Anchor (vehicle) answers key exchange, unlock and ranging requests.
// The Tag (owner device) initiates them. Both consume link events from a
// buffered channel on their own loop; link goroutines never call into the
// state machine directly.
//
// # States
//
//	Idle ──connect──▶ Connected ──KEY_EXCHANGE_INIT──▶ KeyExchanging
//	                                                     │
//	                                          KEY_VERIFY_OK
//	                                                     ▼
//	                 ┌──────────── SessionEstablished ◀───┘
//	                 │                │
//	      UNLOCK_REQUEST        START_RANGING
//	                 ▼                ▼
//	          UnlockPending    RangingPending
//
// A disconnect returns either side to Idle.
//
// # Authorization
//
// The Anchor evaluates session validity at the instant each UNLOCK_REQUEST
// or START_RANGING is processed. Without a valid session it replies
// UNLOCK_DENIED:NO_SESSION or RANGING_DENIED:NO_SESSION and sets no flag.
// A Tag that sent a nonce with KEY_EXCHANGE_INIT is also denied until its
// SESSION_ESTABLISHED confirm verifies.
//
// # Session lifecycle
//
// The lifecycle is deliberately asymmetric. The Anchor clears its session
// and every pending flag on disconnect, so a new KEY_EXCHANGE_INIT is
// required after any connection gap. The Tag keeps its pairing and session
// material across disconnects and only drops its link handle, then
// reconnects with backoff.
//
// # Key exchange
//
//	Tag                                   Anchor
//	 │── KEY_EXCHANGE_INIT:<tag nonce> ──▶│
//	 │◀──────── CHALLENGE:<anchor nonce> ─│
//	 │◀──── KEY_VERIFY_OK | KEY_VERIFY_FAILED | SESSION_FAILED
//	 │── SESSION_ESTABLISHED:<confirm> ──▶│
//	 │◀──────── SESSION_OK | SESSION_FAILED
//
// Both sides derive the session key with HKDF over the pairing key and the
// two nonces. The confirm value is an HMAC under the session key.
package fsm

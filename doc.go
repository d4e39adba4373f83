// Package rowauth bridges bearer tokens to a Postgres datastore that
// enforces row level security through roles and transaction settings.
//
// Request pipeline:
//   - ContextBuilder verifies the bearer token with TokenCodec. Missing,
//     tampered or expired tokens are treated as "not logged in".
//   - TxScope acquires one connection, begins a transaction and sets the
//     visitor role followed by the session claim before anything else runs.
//   - The session row is looked up and its last_active refreshed at most
//     once per staleness window. A session that no longer exists downgrades
//     the request to unauthenticated.
//   - RequestContext exposes the transaction, the session id and the
//     Login/Logout capabilities to handlers. Finish commits or rolls back and
//     always releases the connection.
//
// Identity mutations:
//   - Mutations.Register, Mutations.Login and Mutations.Logout each make one
//     stored procedure call inside the request transaction, bind the
//     resulting session to it and mint or clear the token.
//   - Datastore failures go through a Sanitizer. Only allow-listed codes are
//     disclosed, everything else is logged and replaced by a generic message
//     that carries the code alone.
//
// Session maintenance:
//   - Sessions are never purged implicitly. SessionManager.PurgeIdle removes
//     sessions idle for longer than a given window and is meant to run from a
//     scheduled command.
package rowauth

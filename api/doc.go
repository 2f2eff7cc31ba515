// Package api is the client for the remote robot service.
//
// The api package fetches published robot metadata and source code and
// performs account authentication against the robot-rumble web service.
// Transient transport failures are retried with exponential backoff; HTTP
// error statuses are not.
package api

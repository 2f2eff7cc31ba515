// Package server implements the match-watch HTTP server.
//
// It serves the robot roster over a small JSON API and streams live
// match progress as server-sent events, one event per completed turn
// followed by a final outcome event. Matches run per request, so one
// process can watch several matches at once.
package server

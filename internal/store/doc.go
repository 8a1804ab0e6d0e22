// Package store persists checker state as JSON documents on local disk.
//
// Every document is read leniently: a missing or unparsable file loads as the
// zero value and logs a warning, so a damaged file never blocks a run. Writes
// are strict and atomic (temp file in the same directory, fsync, rename).
// The SQLite and Postgres state backends live in sub-packages; the validator
// cache and escalation queue always use the JSON machinery here.
package store

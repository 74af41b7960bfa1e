// Package store persists accounts and the job ledger in SQLite. The
// database is the queue: workers lease the oldest eligible pending row per
// job type, and every state transition is a conditional UPDATE so a lost
// race is observable instead of silent.
package store

// Package store persists callscribe state in SQLite: meeting to topic
// mappings, the session history and the segment queue journal. Topic and
// session records can alternatively live in Redis so several hosts share
// one mapping.
package store

// Package journal records connection transitions to PostgreSQL.
//
// The journal subscribes to a connection.Manager and appends every state
// and health change to the connection_events table in batches. It is an
// append-only audit trail; nothing is read back on start.
package journal

// Package queue implements the durable offline action queue. Write
// actions that cannot be delivered immediately are held here, retried
// with exponential backoff against an injected handler, and persisted
// through a Store after every mutation so a process restart does not
// silently lose pending actions. Callbacks are in-memory only and do
// not survive a restart.
package queue

// Package crawler holds the vocabulary shared by the frontier, the fetch
// executor, the transports and the content handlers: tasks, ledger entries,
// requests and responses, sessions, and the sentinel errors that cross
// package boundaries.
package crawler

// Package wbot runs the session bootstrap for messaging accounts.
//
// Service.StartSession loads an account, decodes its persisted credential
// bundle, builds the per-connection caches and identity mapping, dials the
// protocol engine, and pumps the socket's events into the lifecycle manager.
// The lifecycle manager calls back into StartSession for scheduled restarts.
//
// Start is the operator-facing variant: it also revives TERMINATED accounts.
//
// Each account has at most one bootstrap in flight. A new start replaces the
// account's live connection.
package wbot

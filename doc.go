// Package digs contains the core types shared by every DiGS subsystem: the
// logical-file-name namespace, the structured error taxonomy, logging and
// configuration bootstrap, and small retry/backoff helpers used by the node
// registry, transfer manager and control thread alike.
package digs

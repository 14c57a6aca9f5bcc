// Package reliability holds the append-only failure ledger. Messages that
// cannot be processed are acknowledged off the broker and written here
// instead; recovery is an operator-driven replay from the ledger, not an
// automatic redelivery loop.
package reliability

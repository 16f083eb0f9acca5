// Package bus abstracts the event bus the ingest loop consumes from and
// the alert publisher emits to. The broker itself is out of scope for this
// repository (SPEC_FULL.md §1) — this package owns a client against it.
package bus

import (
	"context"
	"time"
)

// Message is a single bus message delivered to Poll.
type Message struct {
	Key   []byte
	Value []byte
}

// Bus is the minimal surface the ingest loop and alert publisher need:
// bounded poll, synchronous offset commit, and a non-blocking publish.
//
// Poll returns (nil, nil) on timeout or end-of-partition — neither is an
// error (SPEC_FULL.md §4.5). Publish is fire-and-forget at the transport
// level: a successful return means the message was handed to the
// producer's internal pipeline, not that a broker acknowledged it.
type Bus interface {
	Poll(ctx context.Context, timeout time.Duration) (*Message, error)
	Commit(ctx context.Context) error
	Publish(ctx context.Context, topic string, key, value []byte) error
	Close() error
}

// Package store defines the path-addressed session store shared by every
// process serving a session, and the leaf-tree model its backends implement.
//
// Writes are last-write-wins. Subscriptions deliver the current value of the
// subscribed path first and then every later value the subscriber has not yet
// seen; a slow subscriber only observes the newest pending snapshot. There is
// no ordering guarantee across different paths.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// Snapshot is the value of a path at some point in time. Value is nil when
// the path holds nothing.
type Snapshot struct {
	Path  string
	Value json.RawMessage
}

// Subscription is a cancelable stream of snapshots for one path. The events
// channel is closed after Close or when the store shuts down.
type Subscription interface {
	Events() <-chan Snapshot
	Close()
}

// Store is a key-path addressable JSON tree.
type Store interface {
	// Read returns the value at path, nil when absent.
	Read(ctx context.Context, path string) (json.RawMessage, error)
	// Subscribe streams the value at path, current value first.
	Subscribe(ctx context.Context, path string) (Subscription, error)
	// Write replaces the value at path. A nil value deletes it.
	Write(ctx context.Context, path string, value any) error
	// Merge replaces the named children of path, leaving the others alone.
	// A nil field value deletes that child.
	Merge(ctx context.Context, path string, fields map[string]any) error
	// Append stores value under a new time-ordered child id of path.
	Append(ctx context.Context, path string, value any) (string, error)
	// Delete removes path and everything below it.
	Delete(ctx context.Context, path string) error
	Close() error
}

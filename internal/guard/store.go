// Package guard holds the per-user flood limits applied to every inbound
// update before it reaches the conversation.
package guard

import (
	"context"
	"errors"
)

// Store keeps one record of type T per user.
//
// Update is an atomic get-or-create: fn receives the current record (the
// zero value when none exists) and mutates it in place; the result is
// saved. fn may run more than once when a backend retries on contention,
// so it must only derive its outputs from the record it is given.
type Store[T any] interface {
	Update(ctx context.Context, userID int64, fn func(rec *T)) error
	// Sweep removes records for which expired reports true and returns how
	// many were removed. Backends that expire records on their own may
	// return 0.
	Sweep(ctx context.Context, expired func(rec *T) bool) (int, error)
}

var ErrContention = errors.New("guard: record update contention")

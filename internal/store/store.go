// Package store provides persistence and real-time subscription for master
// events. The scheduling engine consumes this contract; it never retries
// failed calls on its own and treats every mutation as a full replacement of
// the stored record.
package store

import (
	"context"
	"errors"
	"time"

	"crmcal/internal/model"
)

// ErrNotFound is returned when the referenced master event does not exist.
var ErrNotFound = errors.New("master event not found")

// Store is the persistence + subscription contract for master events.
//
// All mutating calls may fail; callers surface the failure to the user and
// roll back any optimistic local state. Subscribe registers a callback that
// receives the full current master set after every committed change, plus an
// error callback for transport-level failures; the returned func cancels the
// subscription.
type Store interface {
	CreateMaster(ctx context.Context, m model.MasterEvent) (string, error)
	UpdateMaster(ctx context.Context, m model.MasterEvent) error
	// UpdateMasterTime is the narrow mutation used by drag/resize: it
	// replaces only the time fields of the master.
	UpdateMasterTime(ctx context.Context, id string, start, end time.Time, allDay bool) error
	DeleteMaster(ctx context.Context, id string) error

	ListMasters(ctx context.Context) ([]model.MasterEvent, error)

	Subscribe(onChange func([]model.MasterEvent), onError func(error)) (unsubscribe func())

	Close() error
}

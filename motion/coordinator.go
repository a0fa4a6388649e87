package motion

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Coordinate runs several axis moves concurrently and combines their
// outcomes: success iff every axis succeeded, with per-axis messages
// tagged by axis name.  A panic in one axis's state machine is
// reported as that axis's failure and does not cancel the others.
func Coordinate(ctx context.Context, fsms []*AxisFSM, abort <-chan struct{}) Outcome {
	outcomes := make([]Outcome, len(fsms))

	var g errgroup.Group
	for i, f := range fsms {
		i, f := i, f
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("%s: motion loop panic: %v", f.axis.Name(), r)
					outcomes[i] = Outcome{Success: false, Message: fmt.Sprintf("Internal error: %v.", r)}
				}
			}()
			outcomes[i] = f.Run(ctx, abort)
			return nil
		})
	}
	g.Wait()

	combined := Outcome{Success: true}
	var msgs []string
	for i, f := range fsms {
		o := outcomes[i]
		combined.Success = combined.Success && o.Success
		combined.Aborted = combined.Aborted || o.Aborted
		msgs = append(msgs, fmt.Sprintf("%s: %s", f.axis.Name(), o.Message))
	}
	combined.Message = strings.Join(msgs, " ")
	return combined
}

// GroupLock grants exclusive use of an axis group.  An acquisition
// that cannot be granted immediately fails rather than queueing.
type GroupLock struct {
	mu      sync.Mutex
	holders map[string]string
}

// Axis group names.
const (
	GroupAzEl  = "azel"
	GroupThird = "third"
)

func NewGroupLock() *GroupLock {
	return &GroupLock{holders: make(map[string]string)}
}

// TryAcquire takes the named group for the given operation.  The
// returned release function must be called exactly once.
func (g *GroupLock) TryAcquire(group, op string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if holder, held := g.holders[group]; held {
		return nil, fmt.Errorf("axis group %q busy (%s)", group, holder)
	}
	g.holders[group] = op
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.holders, group)
	}, nil
}

// Holder reports the operation currently holding a group, if any.
func (g *GroupLock) Holder(group string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	op, held := g.holders[group]
	return op, held
}

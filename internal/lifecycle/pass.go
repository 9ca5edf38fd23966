package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/blackwell-systems/vmsnap/internal/period"
)

// State is a step in a domain's per-invocation lifecycle.
type State int

const (
	NoActionNeeded State = iota
	CleanupRequired
	BackupExecuted
	PruneRequired
	Done
)

func (s State) String() string {
	switch s {
	case NoActionNeeded:
		return "no-action-needed"
	case CleanupRequired:
		return "cleanup-required"
	case BackupExecuted:
		return "backup-executed"
	case PruneRequired:
		return "prune-required"
	case Done:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrInvalidTransition is returned when a Pass is advanced out of order.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// Pass tracks one domain through a single backup invocation:
//
//	NoActionNeeded -> (CleanupRequired) -> BackupExecuted -> (PruneRequired) -> Done
type Pass struct {
	Domain     string
	State      State
	Cleaned    bool
	PrunedPath string
}

// Begin starts a pass for domain, deciding whether pre-backup cleanup is
// required.
func (e *Engine) Begin(domain string, f period.Frequency, at time.Time, root string) (*Pass, error) {
	needs, err := e.NeedsPreBackupCleanup(domain, f, at, root)
	if err != nil {
		return nil, err
	}

	p := &Pass{Domain: domain, State: NoActionNeeded}
	if needs {
		p.State = CleanupRequired
	}
	return p, nil
}

// MarkCleaned records that stale change-tracking state was purged.
func (p *Pass) MarkCleaned() error {
	if p.State != CleanupRequired {
		return p.invalid("mark cleaned")
	}
	p.Cleaned = true
	return nil
}

// BackupFinished records a successful backup run.
func (p *Pass) BackupFinished() error {
	if p.State != NoActionNeeded && p.State != CleanupRequired {
		return p.invalid("finish backup")
	}
	p.State = BackupExecuted
	return nil
}

// Finish decides whether the previous period should be pruned now that the
// backup has run.
func (e *Engine) Finish(p *Pass, f period.Frequency, pruneEnabled bool, at time.Time, root string) error {
	if p.State != BackupExecuted {
		return p.invalid("finish")
	}

	needs, err := e.NeedsPruning(p.Domain, f, pruneEnabled, at, root)
	if err != nil {
		return err
	}

	if needs {
		p.State = PruneRequired
	} else {
		p.State = Done
	}
	return nil
}

// MarkPruned records the removed directory and completes the pass.
func (p *Pass) MarkPruned(path string) error {
	if p.State != PruneRequired {
		return p.invalid("mark pruned")
	}
	p.PrunedPath = path
	p.State = Done
	return nil
}

func (p *Pass) invalid(action string) error {
	return fmt.Errorf("%w: cannot %s from %s (domain %s)", ErrInvalidTransition, action, p.State, p.Domain)
}

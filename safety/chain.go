package safety

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ChainMode selects how the chain runs its checkers.
type ChainMode string

const (
	// ChainModeFailFast runs checkers in priority order and stops at the
	// first block. This is the default and is what gives "first matching
	// rule determines the reason".
	ChainModeFailFast ChainMode = "fail_fast"
	// ChainModeParallel runs all checkers concurrently and blocks if any
	// of them blocks. The reported rule is the highest-priority blocker.
	ChainModeParallel ChainMode = "parallel"
)

// Chain is a fixed-order list of checkers composed into one Checker.
// New layers are added by appending; existing layers are never modified.
type Chain struct {
	mu       sync.RWMutex
	checkers []Checker
	mode     ChainMode
}

// NewChain creates a chain in fail-fast mode.
func NewChain(checkers ...Checker) *Chain {
	c := &Chain{mode: ChainModeFailFast}
	c.Append(checkers...)
	return c
}

// Append adds checkers to the chain.
func (c *Chain) Append(checkers ...Checker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkers = append(c.checkers, checkers...)
}

// SetMode switches the execution mode.
func (c *Chain) SetMode(mode ChainMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
}

// Len returns the number of checkers.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.checkers)
}

// Name implements Checker.
func (c *Chain) Name() string { return "chain" }

// Priority implements Checker.
func (c *Chain) Priority() int { return 0 }

func (c *Chain) snapshot() ([]Checker, ChainMode) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	checkers := make([]Checker, len(c.checkers))
	copy(checkers, c.checkers)
	sort.SliceStable(checkers, func(i, j int) bool {
		return checkers[i].Priority() < checkers[j].Priority()
	})
	return checkers, c.mode
}

// Evaluate implements Checker. Checker errors fail closed: an
// operational failure inside a layer blocks the payload rather than
// letting unscreened text through.
func (c *Chain) Evaluate(ctx context.Context, text string) (*Verdict, error) {
	checkers, mode := c.snapshot()
	if mode == ChainModeParallel {
		return c.evaluateParallel(ctx, checkers, text)
	}

	for _, checker := range checkers {
		select {
		case <-ctx.Done():
			return Block(c.Name(), "cancelled", ctx.Err().Error()), ctx.Err()
		default:
		}

		v, err := checker.Evaluate(ctx, text)
		if err != nil {
			return Block(checker.Name(), "checker_failure", err.Error()), nil
		}
		if !v.Allowed {
			return v, nil
		}
	}
	return Allow(), nil
}

func (c *Chain) evaluateParallel(ctx context.Context, checkers []Checker, text string) (*Verdict, error) {
	verdicts := make([]*Verdict, len(checkers))
	g, gctx := errgroup.WithContext(ctx)
	for i, checker := range checkers {
		i, checker := i, checker
		g.Go(func() error {
			v, err := checker.Evaluate(gctx, text)
			if err != nil {
				verdicts[i] = Block(checker.Name(), "checker_failure", err.Error())
				return nil
			}
			verdicts[i] = v
			return nil
		})
	}
	_ = g.Wait()

	// Checkers are already priority-sorted; the first blocker wins.
	for _, v := range verdicts {
		if v != nil && !v.Allowed {
			return v, nil
		}
	}
	return Allow(), nil
}

package graph

import (
	"context"
	"sync"
)

// VisitFunc processes a single node. A non-nil error marks the node FAILED
// and cancels its descendants; ctx is cancelled when the walk is aborted.
type VisitFunc func(ctx context.Context, node string) error

// VisitResult is the terminal outcome of one node's visit.
type VisitResult struct {
	Node      string
	Err       error
	Cancelled bool
}

// Walker drives a concurrent, per-vertex traversal of a Graph: a node is
// dispatched the moment every one of its dependencies has terminated,
// independent of any other node at the same "level" (spec §4.3: dispatch is
// per-vertex, not level-barrier batched).
type Walker struct {
	Graph       *Graph
	Concurrency int // 0 or negative means unbounded
}

// NewWalker returns a Walker bounded to the given concurrency.
func NewWalker(g *Graph, concurrency int) *Walker {
	return &Walker{Graph: g, Concurrency: concurrency}
}

// Walk visits every node honoring dependency order. It guarantees:
//  1. a node is dispatched only after all of its dependencies have
//     terminated (succeeded, failed, or were cancelled);
//  2. any node whose dependency failed is marked Cancelled without being
//     visited;
//  3. concurrency never exceeds w.Concurrency;
//  4. cancelling ctx stops dispatching new nodes and cancels nodes still
//     waiting;
//  5. the returned slice contains exactly one VisitResult per graph node.
func (w *Walker) Walk(ctx context.Context, visit VisitFunc) []VisitResult {
	g := w.Graph
	nodes := g.Nodes()

	remaining := make(map[string]int, len(nodes)) // pending dependency count
	dependents := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		deps := g.Dependencies(n)
		remaining[n] = len(deps)
		for _, d := range deps {
			dependents[d] = append(dependents[d], n)
		}
	}

	var (
		mu       sync.Mutex
		results  = make(map[string]VisitResult, len(nodes))
		failed   = make(map[string]struct{})
		wg       sync.WaitGroup
		sem      chan struct{}
		cancelFn context.CancelFunc
	)
	runCtx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()

	if w.Concurrency > 0 {
		sem = make(chan struct{}, w.Concurrency)
	}

	ready := make([]string, 0)
	for _, n := range nodes {
		if remaining[n] == 0 {
			ready = append(ready, n)
		}
	}

	var dispatch func(n string)
	var markTerminal func(n string, res VisitResult)

	markTerminal = func(n string, res VisitResult) {
		mu.Lock()
		results[n] = res
		if res.Err != nil || res.Cancelled {
			failed[n] = struct{}{}
		}
		next := make([]string, 0)
		for _, dep := range dependents[n] {
			remaining[dep]--
			if remaining[dep] == 0 {
				next = append(next, dep)
			}
		}
		mu.Unlock()
		for _, dep := range next {
			dispatch(dep)
		}
	}

	dispatch = func(n string) {
		mu.Lock()
		ancestorFailed := false
		for _, d := range g.Dependencies(n) {
			if _, ok := failed[d]; ok {
				ancestorFailed = true
				break
			}
		}
		mu.Unlock()

		if ancestorFailed || runCtx.Err() != nil {
			markTerminal(n, VisitResult{Node: n, Cancelled: true})
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-runCtx.Done():
					markTerminal(n, VisitResult{Node: n, Cancelled: true})
					return
				}
			}
			if runCtx.Err() != nil {
				markTerminal(n, VisitResult{Node: n, Cancelled: true})
				return
			}
			err := visit(runCtx, n)
			markTerminal(n, VisitResult{Node: n, Err: err})
		}()
	}

	for _, n := range ready {
		dispatch(n)
	}
	wg.Wait()

	out := make([]VisitResult, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, results[n])
	}
	return out
}

// Package supervisor implements the two-task respawn rule spec.md §4.7
// describes for both Server.serve and Client.serve: run a fixed set of
// long-lived tasks, restart any task that returns with an error, and exit
// once every task has returned cleanly (nil) at least once without a
// pending restart.
package supervisor

import (
	"context"
	"log"
	"sync"
)

// Task is one long-running loop under supervision (a Transport.Subscribe
// loop, a queue-draining process loop, ...). It should return promptly
// when ctx is cancelled.
type Task func(ctx context.Context) error

// Run starts every task and keeps each one running: a task that returns a
// non-nil error is logged and relaunched; a task that returns nil is done
// for good. Run returns once every task has returned nil, or once ctx is
// cancelled.
func Run(ctx context.Context, label string, tasks ...Task) {
	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for i, t := range tasks {
		go superviseOne(ctx, label, i, t, &wg)
	}
	wg.Wait()
}

func superviseOne(ctx context.Context, label string, index int, t Task, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		err := t(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			return
		}
		log.Printf("[supervisor:%s] task %d exited with error, relaunching: %v", label, index, err)
	}
}

// Package scheduler implements a single-threaded, poll(2)-based event loop.
//
// File descriptors are registered together with a callback and the
// readiness [Mode] they are interested in. Each call to [Scheduler.RunOnce]
// waits once for readiness, bounded by the configured iteration timeout, and
// invokes the callbacks of every ready event that is still registered.
//
// RunOnce is reentrant: a callback may itself call RunOnce to let other
// descriptors make progress while it waits on a slow operation. This is the
// only way long-running work yields; there are no goroutines behind the
// callbacks, and all registration state is owned by the goroutine driving
// the loop. The single exception is [Scheduler.Wake], which may be called
// from any goroutine to interrupt a blocked poll.
//
// Example usage:
//
//	sched, err := scheduler.New()
//	if err != nil {
//	    return err
//	}
//	defer sched.Close()
//
//	id, err := sched.Register(fd, scheduler.ModeRead, func(id scheduler.EventID, mode scheduler.Mode) {
//	    // fd is readable
//	})
//	if err != nil {
//	    return err
//	}
//	defer sched.Unregister(id)
//
//	return sched.Run(ctx)
package scheduler

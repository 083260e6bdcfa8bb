package core

import (
	"context"
	"time"
)

// TaskWithResult is a task that produces a value for its reply.
type TaskWithResult[T any] func(ctx context.Context) (T, error)

// ReplyWithResult receives the value produced by a TaskWithResult.
type ReplyWithResult[T any] func(ctx context.Context, result T, err error)

// =============================================================================
// PostTaskAndReply
// =============================================================================

// PostTaskAndReply runs task on targetRunner and, once it returns without
// panicking, posts reply to replyRunner. A nil replyRunner drops the reply.
func PostTaskAndReply(targetRunner TaskRunner, task Task, reply Task, replyRunner TaskRunner) {
	PostTaskAndReplyWithTraits(targetRunner, task, DefaultTaskTraits(), reply, DefaultTaskTraits(), replyRunner)
}

// PostTaskAndReplyWithTraits allows specifying different traits for task and reply.
// This is useful when task is IO work (BestEffort) but reply is frame work on the UI role.
func PostTaskAndReplyWithTraits(
	targetRunner TaskRunner,
	task Task,
	taskTraits TaskTraits,
	reply Task,
	replyTraits TaskTraits,
	replyRunner TaskRunner,
) {
	if replyRunner == nil {
		targetRunner.PostTaskWithTraits(task, taskTraits)
		return
	}

	wrappedTask := func(ctx context.Context) {
		// A panic propagates to the runner's handler and the reply is skipped
		task(ctx)
		replyRunner.PostTaskWithTraits(reply, replyTraits)
	}

	targetRunner.PostTaskWithTraits(wrappedTask, taskTraits)
}

// PostTaskAndReplyWithResult executes a task that returns a result of type T and an error,
// then passes that result to a reply callback on the replyRunner.
//
// The task always completes before the reply starts, and the reply observes
// every value the task wrote.
//
// Example:
//
//	PostTaskAndReplyWithResult(
//	    runners.IO(),
//	    func(ctx context.Context) (*isolate.Snapshot, error) {
//	        return isolate.LoadSnapshot(settings)
//	    },
//	    func(ctx context.Context, snap *isolate.Snapshot, err error) {
//	        launch(snap, err)
//	    },
//	    runners.UI(),
//	)
func PostTaskAndReplyWithResult[T any](
	targetRunner TaskRunner,
	task TaskWithResult[T],
	reply ReplyWithResult[T],
	replyRunner TaskRunner,
) {
	PostTaskAndReplyWithResultAndTraits(targetRunner, task, DefaultTaskTraits(), reply, DefaultTaskTraits(), replyRunner)
}

// PostTaskAndReplyWithResultAndTraits is the full-featured version that allows specifying
// different traits for the task and reply separately.
func PostTaskAndReplyWithResultAndTraits[T any](
	targetRunner TaskRunner,
	task TaskWithResult[T],
	taskTraits TaskTraits,
	reply ReplyWithResult[T],
	replyTraits TaskTraits,
	replyRunner TaskRunner,
) {
	var result T
	var err error

	wrappedTask := func(ctx context.Context) {
		result, err = task(ctx)
	}
	wrappedReply := func(ctx context.Context) {
		reply(ctx, result, err)
	}

	PostTaskAndReplyWithTraits(targetRunner, wrappedTask, taskTraits, wrappedReply, replyTraits, replyRunner)
}

// PostDelayedTaskAndReplyWithResult delays the task by delay. The reply is
// posted as soon as the task completes.
func PostDelayedTaskAndReplyWithResult[T any](
	targetRunner TaskRunner,
	task TaskWithResult[T],
	delay time.Duration,
	reply ReplyWithResult[T],
	replyRunner TaskRunner,
) {
	var result T
	var err error

	delayed := func(ctx context.Context) {
		result, err = task(ctx)
		if replyRunner != nil {
			replyRunner.PostTask(func(ctx context.Context) {
				reply(ctx, result, err)
			})
		}
	}
	targetRunner.PostDelayedTask(delayed, delay)
}

// =============================================================================
// Synchronous helpers
// =============================================================================

// RunNowOrPostTask runs task inline when ctx already belongs to runner,
// otherwise posts it. Mirrors how frame and isolate setup hop onto a role
// without deadlocking when already there.
func RunNowOrPostTask(ctx context.Context, runner TaskRunner, task Task) {
	if runner.RunsTasksOnCurrentThread(ctx) {
		task(ctx)
		return
	}
	runner.PostTask(task)
}

// PostTaskSync posts task to runner and blocks until it has run.
// When ctx already belongs to runner the task runs inline.
// Returns ctx.Err() if ctx is done first; the task may still run later.
func PostTaskSync(ctx context.Context, runner TaskRunner, task Task) error {
	if runner.RunsTasksOnCurrentThread(ctx) {
		task(ctx)
		return nil
	}

	latch := NewAutoResetWaitableEvent()
	runner.PostTask(func(taskCtx context.Context) {
		defer latch.Signal()
		task(taskCtx)
	})
	return latch.WaitContext(ctx)
}

// PostTaskSyncWithResult is PostTaskSync for tasks that produce a value.
func PostTaskSyncWithResult[T any](ctx context.Context, runner TaskRunner, task TaskWithResult[T]) (T, error) {
	var result T
	var taskErr error
	err := PostTaskSync(ctx, runner, func(taskCtx context.Context) {
		result, taskErr = task(taskCtx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, taskErr
}

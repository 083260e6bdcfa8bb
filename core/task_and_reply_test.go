package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestPostTaskAndReply_ReplyRunsOnReplyRunner
// Given: an IO runner and a UI runner
// When: PostTaskAndReply is used to hop from IO back to UI
// Then: the task runs on IO, the reply on UI, in that order
func TestPostTaskAndReply_ReplyRunsOnReplyRunner(t *testing.T) {
	// Arrange
	io := NewSingleThreadTaskRunner("io")
	defer io.Stop()
	ui := NewSingleThreadTaskRunner("ui")
	defer ui.Stop()

	var taskOnIO, replyOnUI bool
	var order []string
	done := NewAutoResetWaitableEvent()

	// Act
	PostTaskAndReply(io, func(ctx context.Context) {
		taskOnIO = io.RunsTasksOnCurrentThread(ctx)
		order = append(order, "task")
	}, func(ctx context.Context) {
		replyOnUI = ui.RunsTasksOnCurrentThread(ctx)
		order = append(order, "reply")
		done.Signal()
	}, ui)

	// Assert
	if !done.WaitWithTimeout(2 * time.Second) {
		t.Fatal("reply did not run")
	}
	if !taskOnIO || !replyOnUI {
		t.Errorf("placement: got = task on io %v, reply on ui %v, want both true", taskOnIO, replyOnUI)
	}
	if len(order) != 2 || order[0] != "task" {
		t.Errorf("order: got = %v, want [task reply]", order)
	}
}

// TestPostTaskAndReply_PanicSkipsReply verifies a panicking task drops its reply
func TestPostTaskAndReply_PanicSkipsReply(t *testing.T) {
	handler := &recordingPanicHandler{}
	io := NewSingleThreadTaskRunnerWithConfig("io", &RunnerConfig{PanicHandler: handler})
	defer io.Stop()
	ui := NewSingleThreadTaskRunner("ui")
	defer ui.Stop()

	replied := false
	PostTaskAndReply(io, func(ctx context.Context) { panic("load failed") },
		func(ctx context.Context) { replied = true }, ui)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := io.WaitIdle(ctx); err != nil {
		t.Fatalf("io WaitIdle failed: %v", err)
	}
	if err := ui.WaitIdle(ctx); err != nil {
		t.Fatalf("ui WaitIdle failed: %v", err)
	}

	if replied {
		t.Error("reply after panic: got = run, want skipped")
	}
	if got := handler.count(); got != 1 {
		t.Errorf("panics handled: got = %d, want 1", got)
	}
}

func TestPostTaskAndReplyWithResult_PassesValue(t *testing.T) {
	io := NewSingleThreadTaskRunner("io")
	defer io.Stop()
	ui := NewSingleThreadTaskRunner("ui")
	defer ui.Stop()

	wantErr := errors.New("partial")
	var got int
	var gotErr error
	done := NewAutoResetWaitableEvent()

	PostTaskAndReplyWithResult(io, func(ctx context.Context) (int, error) {
		return 42, wantErr
	}, func(ctx context.Context, v int, err error) {
		got, gotErr = v, err
		done.Signal()
	}, ui)

	if !done.WaitWithTimeout(2 * time.Second) {
		t.Fatal("reply did not run")
	}
	if got != 42 || gotErr != wantErr {
		t.Errorf("reply args: got = (%d, %v), want (42, %v)", got, gotErr, wantErr)
	}
}

// TestRunNowOrPostTask_InlineOnSameRunner
// Given: a task already running on the UI runner
// When: RunNowOrPostTask targets the UI runner
// Then: the nested task runs inline before the outer task continues
func TestRunNowOrPostTask_InlineOnSameRunner(t *testing.T) {
	ui := NewSingleThreadTaskRunner("ui")
	defer ui.Stop()

	var order []string
	err := PostTaskSync(context.Background(), ui, func(ctx context.Context) {
		RunNowOrPostTask(ctx, ui, func(context.Context) { order = append(order, "inner") })
		order = append(order, "outer")
	})
	if err != nil {
		t.Fatalf("PostTaskSync failed: %v", err)
	}

	if len(order) != 2 || order[0] != "inner" || order[1] != "outer" {
		t.Errorf("order: got = %v, want [inner outer]", order)
	}
}

func TestPostTaskSyncWithResult(t *testing.T) {
	raster := NewSingleThreadTaskRunner("raster")
	defer raster.Stop()

	v, err := PostTaskSyncWithResult(context.Background(), raster, func(ctx context.Context) (string, error) {
		return GetCurrentTaskRunner(ctx).Name(), nil
	})
	if err != nil {
		t.Fatalf("PostTaskSyncWithResult failed: %v", err)
	}
	if v != "raster" {
		t.Errorf("runner name: got = %q, want %q", v, "raster")
	}
}

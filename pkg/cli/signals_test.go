package cli

import (
	"os"
	"syscall"
	"testing"
	"time"
)

func TestSetupSignalHandlerActive(t *testing.T) {
	ctx := SetupSignalHandler()

	if ctx.Done() == nil {
		t.Fatal("SetupSignalHandler() context has no Done channel")
	}

	select {
	case <-ctx.Done():
		t.Error("context canceled before any signal")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestWaitForShutdownChannel(t *testing.T) {
	sigChan := WaitForShutdown()
	if sigChan == nil {
		t.Fatal("WaitForShutdown() returned nil channel")
	}

	select {
	case sig := <-sigChan:
		t.Errorf("unexpected signal before delivery: %v", sig)
	case <-time.After(10 * time.Millisecond):
	}
}

func TestWaitForShutdownReceivesSIGTERM(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping signal delivery test in short mode")
	}

	sigChan := WaitForShutdown()

	go func() {
		time.Sleep(50 * time.Millisecond)
		p, _ := os.FindProcess(os.Getpid())
		_ = p.Signal(syscall.SIGTERM)
	}()

	select {
	case sig := <-sigChan:
		if sig != syscall.SIGTERM {
			t.Errorf("received %v, want SIGTERM", sig)
		}
	case <-time.After(500 * time.Millisecond):
		t.Skip("signal not delivered within timeout")
	}
}

func TestSignalContextDrivesShutdown(t *testing.T) {
	ctx := SetupSignalHandler()

	workerDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(workerDone)
	}()

	select {
	case <-workerDone:
		t.Error("worker drained before any signal")
	case <-time.After(10 * time.Millisecond):
	}
}

package tray

import (
	"sync"
	"testing"
)

func TestTray_Callbacks(t *testing.T) {
	tr := New(":8000")

	var opened, outputs, quit int
	tr.OnOpenUI(func() { opened++ })
	tr.OnOpenOutputs(func() { outputs++ })
	tr.OnQuit(func() { quit++ })

	tr.handleOpenUI()
	tr.handleOpenUI()
	tr.handleOpenOutputs()
	tr.handleQuit()

	if opened != 2 || outputs != 1 || quit != 1 {
		t.Errorf("callbacks ran %d/%d/%d times, want 2/1/1", opened, outputs, quit)
	}
}

func TestTray_NilCallbacks(t *testing.T) {
	tr := New(":8000")

	tr.handleOpenUI()
	tr.handleOpenOutputs()
	tr.handleQuit()
}

func TestTray_JobDone(t *testing.T) {
	tr := New(":8000")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.JobDone()
		}()
	}
	wg.Wait()

	if got := tr.Jobs(); got != 10 {
		t.Errorf("Jobs() = %d, want 10", got)
	}
}

func TestJobsTitle(t *testing.T) {
	tests := map[int]string{
		0:  "Jobs: none",
		1:  "Jobs: 1",
		42: "Jobs: 42",
	}
	for n, want := range tests {
		if got := jobsTitle(n); got != want {
			t.Errorf("jobsTitle(%d) = %q, want %q", n, got, want)
		}
	}
}

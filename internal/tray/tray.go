// Package tray provides a system tray menu for a locally running objcrop server.
package tray

import (
	"strconv"
	"sync"

	"github.com/getlantern/systray"
)

// Tray represents the system tray application.
type Tray struct {
	addr          string
	onOpenUI      func()
	onOpenOutputs func()
	onQuit        func()
	jobs          int
	mu            sync.RWMutex

	menuJobs *systray.MenuItem
}

// New creates a new Tray for a server listening on addr.
func New(addr string) *Tray {
	return &Tray{addr: addr}
}

// OnOpenUI sets the callback for the "Open Web UI" menu item.
func (t *Tray) OnOpenUI(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpenUI = fn
}

// OnOpenOutputs sets the callback for the "Open Outputs Folder" menu item.
func (t *Tray) OnOpenOutputs(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpenOutputs = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetTitle("objcrop")
	systray.SetTooltip("Object Crop API")

	status := systray.AddMenuItem("Serving on "+t.addr, "Listen address")
	status.Disable()

	t.mu.Lock()
	t.menuJobs = systray.AddMenuItem(jobsTitle(t.jobs), "Jobs processed this session")
	t.menuJobs.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuUI := systray.AddMenuItem("Open Web UI", "Open the web interface in a browser")
	menuOutputs := systray.AddMenuItem("Open Outputs Folder", "Show generated images")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Stop the server and quit")

	go func() {
		for {
			select {
			case <-menuUI.ClickedCh:
				t.handleOpenUI()
			case <-menuOutputs.ClickedCh:
				t.handleOpenOutputs()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				systray.Quit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

func (t *Tray) handleOpenUI() {
	t.mu.RLock()
	callback := t.onOpenUI
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleOpenOutputs() {
	t.mu.RLock()
	callback := t.onOpenOutputs
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// JobDone bumps the processed-jobs counter shown in the menu.
func (t *Tray) JobDone() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.jobs++
	if t.menuJobs != nil {
		t.menuJobs.SetTitle(jobsTitle(t.jobs))
	}
}

// Jobs returns the number of jobs counted so far.
func (t *Tray) Jobs() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.jobs
}

func jobsTitle(n int) string {
	if n == 0 {
		return "Jobs: none"
	}
	return "Jobs: " + strconv.Itoa(n)
}

package heuristic

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// DebugSink receives intermediate images produced while searching for bounds.
type DebugSink interface {
	Save(name string, img gocv.Mat)
}

// DirSink writes debug images into a directory as debug_<n>_<name>_<stamp>.jpg.
type DirSink struct {
	dir   string
	stamp string
	mu    sync.Mutex
	seq   int
	files []string
}

// NewDirSink creates a sink writing into dir.
func NewDirSink(dir string) *DirSink {
	return &DirSink{
		dir:   dir,
		stamp: time.Now().Format("20060102_150405"),
	}
}

// Save writes img to the sink directory.
func (s *DirSink) Save(name string, img gocv.Mat) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	path := filepath.Join(s.dir, fmt.Sprintf("debug_%d_%s_%s.jpg", s.seq, name, s.stamp))
	if ok := gocv.IMWrite(path, img); !ok {
		log.Warnf("Failed to write debug image %s", path)
		return
	}
	s.files = append(s.files, path)
	log.Debugf("Saved %s", path)
}

// Files returns the paths written so far.
func (s *DirSink) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.files...)
}

// Package watch separates audio files dropped into a folder.
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/satindergrewal/duet/internal/stems"
)

const (
	vocalSuffix        = ".vocal.wav"
	instrumentalSuffix = ".instrumental.wav"
)

var mediaExts = map[string]bool{
	".wav": true, ".mp3": true, ".flac": true, ".ogg": true, ".opus": true,
	".m4a": true, ".aac": true, ".mp4": true, ".webm": true, ".mov": true,
}

// IsMedia reports whether path looks like an input the separator accepts.
// Stems written by this package are excluded.
func IsMedia(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	if strings.HasPrefix(name, ".") ||
		strings.HasSuffix(name, vocalSuffix) ||
		strings.HasSuffix(name, instrumentalSuffix) {
		return false
	}
	return mediaExts[filepath.Ext(name)]
}

// StemPaths returns the output files for src inside dir.
func StemPaths(src, dir string) (vocal, instrumental string) {
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	return filepath.Join(dir, base+vocalSuffix), filepath.Join(dir, base+instrumentalSuffix)
}

// SeparateFile reads src and writes its two stems into dir.
func SeparateFile(ctx context.Context, src, dir string) (vocal, instrumental string, err error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", src, err)
	}
	res, err := stems.Separate(ctx, data)
	if err != nil {
		return "", "", err
	}
	v, i, err := res.EncodeWAV()
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create output dir: %w", err)
	}
	vocal, instrumental = StemPaths(src, dir)
	if err := writeAtomic(vocal, v); err != nil {
		return "", "", err
	}
	if err := writeAtomic(instrumental, i); err != nil {
		return "", "", err
	}
	return vocal, instrumental, nil
}

// writeAtomic writes through a hidden temp file so watchers never see a
// partial stem.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".stem-*.wav")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}

// Inbox watches a directory and separates every media file that lands in it.
type Inbox struct {
	in, out string
	settle  time.Duration

	// OnDone is called after each file, for logging and tests.
	OnDone func(src string, err error)

	mu      sync.Mutex
	pending map[string]*time.Timer
	work    chan string
	quit    chan struct{}
}

// NewInbox creates an inbox. An empty out writes stems next to the inputs.
func NewInbox(in, out string) *Inbox {
	if out == "" {
		out = in
	}
	return &Inbox{
		in:      in,
		out:     out,
		settle:  500 * time.Millisecond,
		pending: make(map[string]*time.Timer),
		work:    make(chan string, 64),
		quit:    make(chan struct{}),
	}
}

// SetSettle changes how long a file must stay unchanged before it is read.
func (b *Inbox) SetSettle(d time.Duration) {
	b.settle = d
}

// Run scans the inbox once, then processes new files until ctx ends.
func (b *Inbox) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(b.in); err != nil {
		return fmt.Errorf("watch %s: %w", b.in, err)
	}
	log.Printf("Watching %s for new recordings (stems to %s)", b.in, b.out)

	defer close(b.quit)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.worker(ctx)
	}()
	defer wg.Wait()

	b.initialScan()

	for {
		select {
		case <-ctx.Done():
			b.stopTimers()
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !IsMedia(event.Name) {
				continue
			}
			b.schedule(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("Watcher error: %v", err)
		}
	}
}

// initialScan queues files that have no stems yet.
func (b *Inbox) initialScan() {
	entries, err := os.ReadDir(b.in)
	if err != nil {
		log.Printf("Inbox scan failed: %v", err)
		return
	}
	for _, e := range entries {
		path := filepath.Join(b.in, e.Name())
		if e.IsDir() || !IsMedia(path) {
			continue
		}
		vocal, _ := StemPaths(path, b.out)
		if _, err := os.Stat(vocal); err == nil {
			continue
		}
		b.schedule(path)
	}
}

// schedule queues path once it has been quiet for the settle time.
func (b *Inbox) schedule(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.pending[path]; ok {
		t.Reset(b.settle)
		return
	}
	b.pending[path] = time.AfterFunc(b.settle, func() {
		b.mu.Lock()
		delete(b.pending, path)
		b.mu.Unlock()
		select {
		case b.work <- path:
		case <-b.quit:
		}
	})
}

func (b *Inbox) stopTimers() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for path, t := range b.pending {
		t.Stop()
		delete(b.pending, path)
	}
}

func (b *Inbox) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-b.work:
			start := time.Now()
			vocal, inst, err := SeparateFile(ctx, path, b.out)
			if err != nil {
				log.Printf("Separation of %s failed: %v", filepath.Base(path), err)
			} else {
				log.Printf("Separated %s -> %s, %s (%.1fs)",
					filepath.Base(path), filepath.Base(vocal), filepath.Base(inst), time.Since(start).Seconds())
			}
			if b.OnDone != nil {
				b.OnDone(path, err)
			}
		}
	}
}

// Package export runs mixdown jobs: it rewinds the engine, records the
// master bus for the length of the project and hands back the finished file.
package export

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/satindergrewal/duet/internal/capture"
	"github.com/satindergrewal/duet/internal/engine"
	apperrors "github.com/satindergrewal/duet/internal/errors"
)

// Kind selects the output container.
type Kind string

const (
	Audio Kind = "audio"
	Video Kind = "video"
)

// ContentType returns the MIME type of the finished file.
func (k Kind) ContentType() string {
	if k == Video {
		return "video/webm"
	}
	return "audio/wav"
}

// Extension returns the file extension of the finished file.
func (k Kind) Extension() string {
	if k == Video {
		return "webm"
	}
	return "wav"
}

// Recorder is a master-bus tap that produces a file when stopped.
type Recorder interface {
	engine.Tap
	Stop() ([]byte, error)
}

// Options configures an Exporter.
type Options struct {
	Dir        string                     // temporary files, default os.TempDir
	FFmpegPath string                     // for video, default "ffmpeg"
	Buffer     time.Duration              // recorded past the end, default 500ms
	Grace      time.Duration              // extra wall time before forcing, default 5s
	Poll       time.Duration              // progress interval, default 100ms
	Retain     time.Duration              // finished jobs are kept this long, default 10m
	Frames     func() capture.FrameSource // picture for video exports
}

// Exporter runs one export at a time against an engine.
type Exporter struct {
	eng  *engine.Engine
	opts Options

	mu     sync.RWMutex
	jobs   map[string]*Job
	active *Job
}

// New creates an exporter.
func New(eng *engine.Engine, opts Options) *Exporter {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 500 * time.Millisecond
	}
	if opts.Grace <= 0 {
		opts.Grace = 5 * time.Second
	}
	if opts.Poll <= 0 {
		opts.Poll = 100 * time.Millisecond
	}
	if opts.Retain <= 0 {
		opts.Retain = 10 * time.Minute
	}
	return &Exporter{
		eng:  eng,
		opts: opts,
		jobs: make(map[string]*Job),
	}
}

// Start rewinds the engine and begins recording. Capture and playback start
// in the same engine step.
func (x *Exporter) Start(kind Kind) (*Job, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.active != nil {
		return nil, apperrors.ErrExportBusy
	}

	rec, err := x.recorder(kind)
	if err != nil {
		return nil, err
	}
	start, dur, err := x.eng.StartCapture(rec)
	if err != nil {
		rec.Stop()
		return nil, err
	}

	job := newJob(kind, dur)
	x.jobs[job.ID] = job
	x.active = job
	log.Printf("Export %s job %s started (%.2fs)", kind, job.ID, dur.Seconds())

	go x.run(job, rec, start, dur)
	return job, nil
}

func (x *Exporter) recorder(kind Kind) (Recorder, error) {
	switch kind {
	case Audio:
		return capture.NewWAVRecorder(x.opts.Dir)
	case Video:
		if x.opts.Frames == nil {
			return nil, errors.New("video export needs a frame source")
		}
		return capture.NewVideoRecorder(context.Background(), x.opts.FFmpegPath, x.opts.Dir, x.opts.Frames())
	}
	return nil, fmt.Errorf("unknown export kind %q", kind)
}

// run waits for the engine clock to pass the end of the project plus the
// buffer, or for the wall-clock deadline, or for Cancel, then finalises.
func (x *Exporter) run(job *Job, rec Recorder, start, dur time.Duration) {
	deadline := time.Now().Add(dur + x.opts.Buffer + x.opts.Grace)
	ticker := time.NewTicker(x.opts.Poll)
	defer ticker.Stop()

	cancelled := false
loop:
	for {
		select {
		case <-job.cancel:
			cancelled = true
			break loop
		case <-ticker.C:
		}
		elapsed := x.eng.Clock() - start
		job.setProgress(min(elapsed.Seconds()/dur.Seconds(), 0.99))
		if elapsed >= dur+x.opts.Buffer {
			break loop
		}
		if time.Now().After(deadline) {
			log.Printf("Export %s job %s hit its deadline at %.2fs of %.2fs, finalising",
				job.Kind, job.ID, elapsed.Seconds(), dur.Seconds())
			break loop
		}
	}

	x.eng.RemoveTap(rec)
	x.eng.Stop()
	data, err := rec.Stop()

	x.mu.Lock()
	x.active = nil
	x.mu.Unlock()

	job.finish(data, err, cancelled)
	if err != nil {
		log.Printf("Export %s job %s failed: %v", job.Kind, job.ID, err)
	} else {
		log.Printf("Export %s job %s finished (%d bytes)", job.Kind, job.ID, len(data))
	}

	time.AfterFunc(x.opts.Retain, func() {
		x.mu.Lock()
		delete(x.jobs, job.ID)
		x.mu.Unlock()
	})
}

// Get returns a job by id, or nil.
func (x *Exporter) Get(id string) *Job {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.jobs[id]
}

// Active returns the running job, or nil.
func (x *Exporter) Active() *Job {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.active
}

// Cancel stops a running job early. The partial file is still finalised.
func (x *Exporter) Cancel(id string) error {
	job := x.Get(id)
	if job == nil {
		return fmt.Errorf("export job %s not found", id)
	}
	job.Cancel()
	return nil
}

// Status is the lifecycle of a job.
type Status string

const (
	StatusRecording Status = "recording"
	StatusComplete  Status = "complete"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Job is one export.
type Job struct {
	ID        string
	Kind      Kind
	Duration  time.Duration
	CreatedAt time.Time

	mu       sync.RWMutex
	status   Status
	progress float64
	data     []byte
	err      error

	cancel     chan struct{}
	cancelOnce sync.Once
	done       chan struct{}
}

func newJob(kind Kind, dur time.Duration) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Duration:  dur,
		CreatedAt: time.Now(),
		status:    StatusRecording,
		cancel:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (j *Job) setProgress(p float64) {
	j.mu.Lock()
	j.progress = p
	j.mu.Unlock()
}

func (j *Job) finish(data []byte, err error, cancelled bool) {
	j.mu.Lock()
	switch {
	case err != nil:
		j.status = StatusFailed
		j.err = err
	case cancelled:
		j.status = StatusCancelled
		j.data = data
	default:
		j.status = StatusComplete
		j.progress = 1
		j.data = data
	}
	j.mu.Unlock()
	close(j.done)
}

// Cancel asks the job to stop early.
func (j *Job) Cancel() {
	j.cancelOnce.Do(func() { close(j.cancel) })
}

// Done is closed when the job has finished.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes and returns its file.
func (j *Job) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-j.done:
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.data, j.err
}

// Progress returns completion in [0, 1]. It stays below 1 until the file is
// finalised.
func (j *Job) Progress() float64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.progress
}

// Status returns the lifecycle state.
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Data returns the finished file, or nil.
func (j *Job) Data() []byte {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.data
}

// Err returns the failure of a finished job, or nil.
func (j *Job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

// JobInfo is the JSON view of a job.
type JobInfo struct {
	ID       string  `json:"id"`
	Kind     Kind    `json:"kind"`
	Status   Status  `json:"status"`
	Progress float64 `json:"progress"`
	Duration float64 `json:"duration"`
	Size     int     `json:"size,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Info snapshots the job.
func (j *Job) Info() JobInfo {
	j.mu.RLock()
	defer j.mu.RUnlock()
	info := JobInfo{
		ID:       j.ID,
		Kind:     j.Kind,
		Status:   j.status,
		Progress: j.progress,
		Duration: j.Duration.Seconds(),
		Size:     len(j.data),
	}
	if j.err != nil {
		info.Error = j.err.Error()
	}
	return info
}

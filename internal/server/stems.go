package server

import (
	"context"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/satindergrewal/duet/internal/engine"
	"github.com/satindergrewal/duet/internal/stems"
)

// StemStatus represents the current state of a separation job
type StemStatus string

const (
	StemPending    StemStatus = "pending"
	StemProcessing StemStatus = "processing"
	StemComplete   StemStatus = "complete"
	StemFailed     StemStatus = "failed"
)

// StemJob is one uploaded file being separated.
type StemJob struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    StemStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`

	result       *stems.Result
	vocal        []byte
	instrumental []byte
	err          error
}

// StemJobs tracks separation jobs
type StemJobs struct {
	jobs map[string]*StemJob
	mu   sync.RWMutex
}

// NewStemJobs creates an empty job table.
func NewStemJobs() *StemJobs {
	return &StemJobs{jobs: make(map[string]*StemJob)}
}

// Create registers a new pending job.
func (m *StemJobs) Create(name string) *StemJob {
	job := &StemJob{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    StemPending,
		CreatedAt: time.Now(),
	}
	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()
	return job
}

// Get returns a snapshot of a job, or nil.
func (m *StemJobs) Get(id string) *StemJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil
	}
	cp := *job
	return &cp
}

// Process separates data and stores both stems as WAV. Jobs are dropped
// an hour after they finish.
func (m *StemJobs) Process(ctx context.Context, job *StemJob, data []byte) {
	m.update(job.ID, func(j *StemJob) { j.Status = StemProcessing })

	res, err := stems.Separate(ctx, data)
	var vocal, inst []byte
	if err == nil {
		vocal, inst, err = res.EncodeWAV()
	}

	m.update(job.ID, func(j *StemJob) {
		if err != nil {
			j.Status = StemFailed
			j.Error = err.Error()
			j.err = err
			return
		}
		j.Status = StemComplete
		j.result = res
		j.vocal = vocal
		j.instrumental = inst
	})
	if err != nil {
		log.Printf("Stem job %s (%s) failed: %v", job.ID, job.Name, err)
	}

	time.AfterFunc(time.Hour, func() {
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()
	})
}

func (m *StemJobs) update(id string, fn func(*StemJob)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		fn(j)
	}
}

// --- Handlers ---

func (s *Server) handleStemsUpload(w http.ResponseWriter, r *http.Request) {
	name, data, err := s.readUpload(w, r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(data) == 0 {
		writeMessage(w, http.StatusBadRequest, "empty upload")
		return
	}
	job := s.stems.Create(name)
	go s.stems.Process(s.ctx, job, data)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) stemJob(w http.ResponseWriter, r *http.Request) *StemJob {
	job := s.stems.Get(chi.URLParam(r, "id"))
	if job == nil {
		writeMessage(w, http.StatusNotFound, "stem job not found")
	}
	return job
}

func (s *Server) handleStemsStatus(w http.ResponseWriter, r *http.Request) {
	if job := s.stemJob(w, r); job != nil {
		writeJSON(w, http.StatusOK, job)
	}
}

// finished writes the response for jobs that have no stems yet.
func finished(w http.ResponseWriter, job *StemJob) bool {
	switch job.Status {
	case StemComplete:
		return true
	case StemFailed:
		writeError(w, job.err)
	default:
		writeMessage(w, http.StatusConflict, "separation still running")
	}
	return false
}

func (s *Server) handleStemsDownload(w http.ResponseWriter, r *http.Request) {
	job := s.stemJob(w, r)
	if job == nil || !finished(w, job) {
		return
	}
	base := strings.TrimSuffix(job.Name, filepath.Ext(job.Name))
	switch chi.URLParam(r, "stem") {
	case "vocal":
		writeFile(w, "audio/wav", base+".vocal.wav", job.vocal)
	case "instrumental":
		writeFile(w, "audio/wav", base+".instrumental.wav", job.instrumental)
	default:
		writeMessage(w, http.StatusNotFound, "unknown stem")
	}
}

// handleStemsLoad installs both stems on the engine's strips.
func (s *Server) handleStemsLoad(w http.ResponseWriter, r *http.Request) {
	job := s.stemJob(w, r)
	if job == nil || !finished(w, job) {
		return
	}
	base := strings.TrimSuffix(job.Name, filepath.Ext(job.Name))
	s.engine.SetTrack(engine.NewTrack(base+" (instrumental)", engine.Instrumental, job.result.Instrumental))
	s.engine.SetTrack(engine.NewTrack(base+" (vocal)", engine.Vocal, job.result.Vocal))
	writeJSON(w, http.StatusOK, s.engine.Status())
}

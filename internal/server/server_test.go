package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/satindergrewal/duet/internal/audio"
	"github.com/satindergrewal/duet/internal/engine"
	apperrors "github.com/satindergrewal/duet/internal/errors"
	"github.com/satindergrewal/duet/internal/export"
	"github.com/satindergrewal/duet/internal/project"
)

type fixture struct {
	srv     *Server
	eng     *engine.Engine
	exports *export.Exporter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	e := engine.New(engine.Options{})
	x := export.New(e, export.Options{
		Dir:    t.TempDir(),
		Buffer: 50 * time.Millisecond,
		Poll:   2 * time.Millisecond,
	})
	store, err := project.OpenStore(filepath.Join(t.TempDir(), "duet.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	s := New(Config{}, Deps{Engine: e, Exporter: x, Store: store})
	t.Cleanup(s.Close)
	return &fixture{srv: s, eng: e, exports: x}
}

func (f *fixture) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func wavBytes(t *testing.T, seconds float64) []byte {
	t.Helper()
	frames := int(seconds * audio.SampleRate)
	b := audio.NewBuffer(audio.SampleRate, 2, frames)
	for i := 0; i < frames; i++ {
		b.Channels[0][i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/audio.SampleRate))
		b.Channels[1][i] = float32(0.3 * math.Sin(2*math.Pi*660*float64(i)/audio.SampleRate))
	}
	data, err := audio.EncodeWAV(b)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	return data
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func (f *fixture) loadBoth(t *testing.T, seconds float64) {
	t.Helper()
	for _, kind := range []string{"instrumental", "vocal"} {
		rec := f.do(t, http.MethodPost, "/api/tracks/"+kind+"?name="+kind+".wav", wavBytes(t, seconds))
		if rec.Code != http.StatusCreated {
			t.Fatalf("load %s = %d %s", kind, rec.Code, rec.Body.String())
		}
	}
}

// --- Basics ---

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != `{"status":"ok"}` {
		t.Errorf("health = %d %s", rec.Code, rec.Body.String())
	}
}

func TestStatusForErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.NewDecodeError("x", apperrors.ErrUnsupportedFormat), http.StatusUnsupportedMediaType},
		{apperrors.NewPermissionError("microphone", nil), http.StatusForbidden},
		{apperrors.NewSeparationError("decode", nil), http.StatusUnprocessableEntity},
		{apperrors.NewSeparationError("decode", apperrors.NewDecodeError("", apperrors.ErrUnsupportedFormat)), http.StatusUnprocessableEntity},
		{apperrors.NewExportEmptyError("audio"), http.StatusInternalServerError},
		{apperrors.ErrNoTracks, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", apperrors.ErrExportBusy), http.StatusConflict},
		{project.ErrNotFound, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

// --- Tracks and transport ---

func TestLoadTrackRawAndMultipart(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/tracks/instrumental?name=beat.wav", wavBytes(t, 0.5))
	if rec.Code != http.StatusCreated {
		t.Fatalf("raw load = %d %s", rec.Code, rec.Body.String())
	}
	var info engine.TrackInfo
	decode(t, rec, &info)
	if info.Name != "beat.wav" || info.Kind != engine.Instrumental {
		t.Errorf("info = %+v", info)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("audio", "take.wav")
	fw.Write(wavBytes(t, 0.25))
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/tracks/vocal", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("multipart load = %d %s", rec.Code, rec.Body.String())
	}
	if tr := f.eng.Track(engine.Vocal); tr == nil || tr.Name != "take.wav" {
		t.Errorf("vocal track = %+v, want take.wav", tr)
	}

	rec = f.do(t, http.MethodDelete, "/api/tracks/vocal", nil)
	if rec.Code != http.StatusNoContent || f.eng.Track(engine.Vocal) != nil {
		t.Errorf("unload = %d, track %v", rec.Code, f.eng.Track(engine.Vocal))
	}
}

func TestLoadTrackErrors(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(t, http.MethodPost, "/api/tracks/drums", wavBytes(t, 0.1)); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown kind = %d, want 400", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/tracks/vocal", []byte("not audio at all")); rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("garbage = %d, want 415", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/tracks/vocal", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("empty = %d, want 400", rec.Code)
	}
	if f.eng.Track(engine.Vocal) != nil {
		t.Error("failed loads must leave the engine untouched")
	}
}

func TestSettingsPartialUpdate(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPut, "/api/settings/vocal", []byte(`{"reverb":0.5,"volume":-90}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("put = %d %s", rec.Code, rec.Body.String())
	}
	var st engine.Settings
	decode(t, rec, &st)
	if st.Reverb != 0.5 {
		t.Errorf("Reverb = %v, want 0.5", st.Reverb)
	}
	if st.Volume != -60 {
		t.Errorf("Volume = %v, want clamped -60", st.Volume)
	}
	if st.Speed != 1 {
		t.Errorf("Speed = %v, untouched fields should keep their value", st.Speed)
	}
	if rec := f.do(t, http.MethodPut, "/api/settings/vocal", []byte(`{`)); rec.Code != http.StatusBadRequest {
		t.Errorf("bad json = %d, want 400", rec.Code)
	}
}

func TestTransport(t *testing.T) {
	f := newFixture(t)
	f.loadBoth(t, 2)

	tests := []struct {
		path string
		body string
		want engine.State
	}{
		{"/api/transport/play", `{"time":0.5}`, engine.Playing},
		{"/api/transport/pause", "", engine.Paused},
		{"/api/transport/toggle", "", engine.Playing},
		{"/api/transport/seek", `{"time":1}`, engine.Playing},
		{"/api/transport/stop", "", engine.Idle},
		{"/api/transport/play", "", engine.Playing},
	}
	for _, tt := range tests {
		rec := f.do(t, http.MethodPost, tt.path, []byte(tt.body))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s = %d %s", tt.path, rec.Code, rec.Body.String())
		}
		if got := f.eng.State(); got != tt.want {
			t.Errorf("%s: state = %v, want %v", tt.path, got, tt.want)
		}
	}

	if rec := f.do(t, http.MethodPost, "/api/transport/seek", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("seek without time = %d, want 400", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/transport/rewind", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown action = %d, want 404", rec.Code)
	}

	rec := f.do(t, http.MethodPost, "/api/offset", []byte(`{"offset":-0.25}`))
	if rec.Code != http.StatusOK || f.eng.Offset() != -250*time.Millisecond {
		t.Errorf("offset = %d, engine offset %v", rec.Code, f.eng.Offset())
	}
	if rec := f.do(t, http.MethodPost, "/api/offset", []byte(`{}`)); rec.Code != http.StatusBadRequest {
		t.Errorf("offset without value = %d, want 400", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/offset", []byte(`{"offset":1e300}`)); rec.Code != http.StatusOK || f.eng.Offset() != engine.MaxOffset {
		t.Errorf("huge offset = %d, engine offset %v, want %v", rec.Code, f.eng.Offset(), engine.MaxOffset)
	}
	f.do(t, http.MethodPost, "/api/offset", []byte(`{"offset":-0.25}`))

	rec = f.do(t, http.MethodGet, "/api/status", nil)
	var st map[string]any
	decode(t, rec, &st)
	if st["state"] != "playing" {
		t.Errorf("status state = %v, want playing", st["state"])
	}
	if st["offset"] != -0.25 {
		t.Errorf("status offset = %v, want -0.25", st["offset"])
	}

	if rec := f.do(t, http.MethodPost, "/api/reset", nil); rec.Code != http.StatusOK || f.eng.Track(engine.Vocal) != nil {
		t.Errorf("reset = %d", rec.Code)
	}
}

func TestMicWithoutDevice(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(t, http.MethodPost, "/api/mic/start", nil); rec.Code != http.StatusForbidden {
		t.Errorf("mic start = %d, want 403", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/mic/stop", nil); rec.Code != http.StatusConflict {
		t.Errorf("mic stop = %d, want 409", rec.Code)
	}
}

// --- Export ---

func TestExportFlow(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(t, http.MethodPost, "/api/export/audio", nil); rec.Code != http.StatusConflict {
		t.Errorf("export without tracks = %d, want 409", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/export/gif", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("unknown kind = %d, want 405", rec.Code)
	}

	f.loadBoth(t, 0.2)
	rec := f.do(t, http.MethodPost, "/api/export/audio", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("export = %d %s", rec.Code, rec.Body.String())
	}
	var info export.JobInfo
	decode(t, rec, &info)
	if info.Status != export.StatusRecording {
		t.Errorf("status = %v, want recording", info.Status)
	}
	if rec := f.do(t, http.MethodPost, "/api/export/audio", nil); rec.Code != http.StatusConflict {
		t.Errorf("second export = %d, want 409", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/export/"+info.ID+"/download", nil); rec.Code != http.StatusConflict {
		t.Errorf("early download = %d, want 409", rec.Code)
	}

	job := f.exports.Get(info.ID)
	for done := false; !done; {
		select {
		case <-job.Done():
			done = true
		case <-time.After(10 * time.Second):
			t.Fatal("export did not finish")
		default:
			f.eng.Render()
			time.Sleep(50 * time.Microsecond)
		}
	}

	rec = f.do(t, http.MethodGet, "/api/export/"+info.ID, nil)
	decode(t, rec, &info)
	if info.Status != export.StatusComplete || info.Progress != 1 {
		t.Errorf("final info = %+v", info)
	}
	rec = f.do(t, http.MethodGet, "/api/export/"+info.ID+"/download", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("download = %d %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q, want audio/wav", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("RIFF")) {
		t.Error("download is not a WAV file")
	}
	if rec := f.do(t, http.MethodGet, "/api/export/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown job = %d, want 404", rec.Code)
	}
}

// --- Stems ---

func TestStemsFlow(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/stems?name=song.wav", wavBytes(t, 0.3))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("upload = %d %s", rec.Code, rec.Body.String())
	}
	var job StemJob
	decode(t, rec, &job)

	deadline := time.Now().Add(10 * time.Second)
	for job.Status != StemComplete {
		if job.Status == StemFailed || time.Now().After(deadline) {
			t.Fatalf("job = %+v", job)
		}
		time.Sleep(5 * time.Millisecond)
		decode(t, f.do(t, http.MethodGet, "/api/stems/"+job.ID, nil), &job)
	}

	for _, stem := range []string{"vocal", "instrumental"} {
		rec := f.do(t, http.MethodGet, "/api/stems/"+job.ID+"/"+stem, nil)
		if rec.Code != http.StatusOK || !bytes.HasPrefix(rec.Body.Bytes(), []byte("RIFF")) {
			t.Errorf("%s stem = %d", stem, rec.Code)
		}
		want := fmt.Sprintf("attachment; filename=%q", "song."+stem+".wav")
		if got := rec.Header().Get("Content-Disposition"); got != want {
			t.Errorf("Content-Disposition = %q, want %q", got, want)
		}
	}

	if rec := f.do(t, http.MethodPost, "/api/stems/"+job.ID+"/load", nil); rec.Code != http.StatusOK {
		t.Fatalf("load stems = %d", rec.Code)
	}
	if f.eng.Track(engine.Vocal) == nil || f.eng.Track(engine.Instrumental) == nil {
		t.Error("stems should be installed on both strips")
	}
}

func TestStemsDecodeFailure(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/stems", []byte("garbage"))
	var job StemJob
	decode(t, rec, &job)

	deadline := time.Now().Add(5 * time.Second)
	for job.Status != StemFailed {
		if time.Now().After(deadline) {
			t.Fatalf("job = %+v, want failed", job)
		}
		time.Sleep(5 * time.Millisecond)
		decode(t, f.do(t, http.MethodGet, "/api/stems/"+job.ID, nil), &job)
	}
	if job.Error != "stem separation: decode failed" {
		t.Errorf("Error = %q", job.Error)
	}
	if rec := f.do(t, http.MethodGet, "/api/stems/"+job.ID+"/vocal", nil); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("download of failed job = %d, want 422", rec.Code)
	}
}

// --- Projects ---

func TestProjectRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPut, "/api/settings/instrumental", []byte(`{"bassBoost":6}`))
	f.do(t, http.MethodPost, "/api/offset", []byte(`{"offset":0.5}`))

	rec := f.do(t, http.MethodGet, "/api/project", nil)
	saved := rec.Body.Bytes()
	if rec.Code != http.StatusOK {
		t.Fatalf("get project = %d", rec.Code)
	}

	f.do(t, http.MethodPost, "/api/reset", nil)
	f.eng.SetOffset(0)
	if rec := f.do(t, http.MethodPut, "/api/project", saved); rec.Code != http.StatusOK {
		t.Fatalf("put project = %d %s", rec.Code, rec.Body.String())
	}
	if got := f.eng.Settings(engine.Instrumental).BassBoost; got != 6 {
		t.Errorf("BassBoost = %v, want 6", got)
	}
	if got := f.eng.Offset(); got != 500*time.Millisecond {
		t.Errorf("Offset() = %v, want 500ms", got)
	}
	if rec := f.do(t, http.MethodPut, "/api/project", []byte(`not json`)); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid project = %d, want 400", rec.Code)
	}
}

func TestProjectStore(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPut, "/api/settings/vocal", []byte(`{"delay":0.7}`))

	if rec := f.do(t, http.MethodPut, "/api/projects/late-night", nil); rec.Code != http.StatusOK {
		t.Fatalf("save = %d %s", rec.Code, rec.Body.String())
	}
	var list []project.Entry
	decode(t, f.do(t, http.MethodGet, "/api/projects", nil), &list)
	if len(list) != 1 || list[0].Name != "late-night" {
		t.Errorf("list = %+v", list)
	}

	f.do(t, http.MethodPost, "/api/reset", nil)
	if rec := f.do(t, http.MethodPost, "/api/projects/late-night/load", nil); rec.Code != http.StatusOK {
		t.Fatalf("load = %d", rec.Code)
	}
	if got := f.eng.Settings(engine.Vocal).Delay; got != 0.7 {
		t.Errorf("Delay = %v, want 0.7", got)
	}

	if rec := f.do(t, http.MethodDelete, "/api/projects/late-night", nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/projects/late-night", nil); rec.Code != http.StatusNotFound {
		t.Errorf("get deleted = %d, want 404", rec.Code)
	}
}

func TestProjectsWithoutStore(t *testing.T) {
	e := engine.New(engine.Options{})
	s := New(Config{}, Deps{Engine: e, Exporter: export.New(e, export.Options{})})
	defer s.Close()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/projects", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("list without store = %d, want 503", rec.Code)
	}
}

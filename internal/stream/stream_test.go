package stream

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/satindergrewal/duet/internal/audio"
)

// --- Local monitor ---

func TestFrameReader(t *testing.T) {
	b := NewBroadcaster(4)
	l := b.Subscribe()
	r := newFrameReader(l)

	b.Publish([]int16{1, -1, 300})
	got := make([]byte, 4)
	if n, err := r.Read(got); n != 4 || err != nil {
		t.Fatalf("Read = %d, %v", n, err)
	}
	if v := int16(binary.LittleEndian.Uint16(got[2:])); v != -1 {
		t.Errorf("second sample = %d, want -1", v)
	}
	rest := make([]byte, 8)
	if n, _ := r.Read(rest); n != 2 {
		t.Errorf("remaining bytes = %d, want 2", n)
	}

	b.Unsubscribe(l)
	if _, err := r.Read(rest); err != io.EOF {
		t.Errorf("Read after unsubscribe = %v, want EOF", err)
	}
}

// --- HTTP monitor ---

func TestHTTPHandlerArgs(t *testing.T) {
	h := NewHTTPHandler(NewBroadcaster(0), "", "duet")
	if h.ffmpegPath != "ffmpeg" {
		t.Errorf("ffmpegPath = %q, want ffmpeg", h.ffmpegPath)
	}
	args := strings.Join(h.args(), " ")
	for _, want := range []string{"-f s16le", "-ar 48000", "-ac 2", "-b:a 192k", "pipe:1"} {
		if !strings.Contains(args, want) {
			t.Errorf("args missing %q: %s", want, args)
		}
	}
}

func TestHTTPHandlerMissingEncoder(t *testing.T) {
	h := NewHTTPHandler(NewBroadcaster(0), "/nonexistent/ffmpeg", "duet")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHTTPHandlerStreamsMP3(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	b := NewBroadcaster(0)
	srv := httptest.NewServer(NewHTTPHandler(b, "", "duet"))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go func() {
		frame := make([]int16, audio.BlockSamples)
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.Publish(frame)
			}
		}
	}()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("Content-Type = %q, want audio/mpeg", ct)
	}
	if name := resp.Header.Get("ICY-Name"); name != "duet" {
		t.Errorf("ICY-Name = %q, want duet", name)
	}
	head := make([]byte, 1024)
	if _, err := io.ReadFull(resp.Body, head); err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if bytes.Count(head, []byte{0xFF}) == 0 {
		t.Error("stream has no MP3 frame sync bytes")
	}
}

// --- WebRTC ---

func TestOfferEndpointsRejectBadRequests(t *testing.T) {
	handlers := map[string]http.Handler{
		"monitor":    NewWebRTCHandler(NewBroadcaster(0)),
		"microphone": NewMicIngest(),
	}
	for name, h := range handlers {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/offer", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s GET status = %d, want 405", name, rec.Code)
		}

		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/offer", strings.NewReader("{")))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s bad body status = %d, want 400", name, rec.Code)
		}

		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/offer", nil))
		if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Methods") != "POST" {
			t.Errorf("%s preflight = %d %v", name, rec.Code, rec.Header())
		}
	}
}

func TestMicIngestWithoutBrowser(t *testing.T) {
	m := NewMicIngest()
	if m.Connected() {
		t.Error("Connected() = true before any offer")
	}
	if _, err := m.Open(context.Background()); !errors.Is(err, ErrNoMicrophone) {
		t.Errorf("Open error = %v, want ErrNoMicrophone", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestMicIngestDelivers(t *testing.T) {
	m := NewMicIngest()
	m.setConnected(true)

	ctx, cancel := context.WithCancel(context.Background())
	frames, err := m.Open(ctx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := m.Open(ctx); err == nil {
		t.Error("second Open should fail")
	}

	src := []int16{5, 6, 7, 8}
	m.deliver(src)
	src[0] = 99
	got := <-frames
	if got[0] != 5 || len(got) != 4 {
		t.Errorf("frame = %v, want a copy of [5 6 7 8]", got)
	}

	cancel()
	select {
	case _, ok := <-frames:
		if ok {
			t.Error("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("frame channel not closed after cancel")
	}

	// a new take can open after the old one closed
	frames2, err := m.Open(context.Background())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	m.Close()
	if _, ok := <-frames2; ok {
		t.Error("expected closed channel after Close")
	}
}

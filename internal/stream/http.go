package stream

import (
	"context"
	"io"
	"log"
	"net/http"
	"os/exec"
	"strconv"

	"github.com/satindergrewal/duet/internal/audio"
)

// HTTPHandler serves the master bus as a chunked MP3 stream. Each
// connection runs its own ffmpeg encoder fed from a broadcaster listener.
type HTTPHandler struct {
	broadcaster *Broadcaster
	ffmpegPath  string
	name        string
	bitrate     int // kbit/s
}

// NewHTTPHandler creates an MP3 stream handler. An empty ffmpegPath means
// "ffmpeg" on PATH.
func NewHTTPHandler(b *Broadcaster, ffmpegPath, name string) *HTTPHandler {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &HTTPHandler{broadcaster: b, ffmpegPath: ffmpegPath, name: name, bitrate: 192}
}

// args builds the ffmpeg command line: raw PCM on stdin, MP3 on stdout.
func (h *HTTPHandler) args() []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", strconv.Itoa(h.bitrate) + "k",
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cmd := exec.CommandContext(ctx, h.ffmpegPath, h.args()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		log.Printf("HTTP monitor: stdin pipe error: %v", err)
		http.Error(w, "stream unavailable", http.StatusInternalServerError)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.Printf("HTTP monitor: stdout pipe error: %v", err)
		http.Error(w, "stream unavailable", http.StatusInternalServerError)
		return
	}
	if err := cmd.Start(); err != nil {
		log.Printf("HTTP monitor: ffmpeg start error: %v", err)
		http.Error(w, "stream unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if h.name != "" {
		w.Header().Set("ICY-Name", h.name)
	}

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	log.Printf("HTTP monitor connected (total: %d)", h.broadcaster.ListenerCount())
	defer log.Printf("HTTP monitor disconnected")

	go func() {
		defer stdin.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-listener.Done():
				return
			case frame := <-listener.C:
				if _, err := stdin.Write(audio.SamplesToBytes(frame)); err != nil {
					return
				}
			}
		}
	}()

	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("HTTP monitor: ffmpeg read error: %v", err)
			}
			break
		}
	}

	cancel()
	cmd.Wait()
}

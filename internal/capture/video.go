package capture

import (
	"context"
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/satindergrewal/duet/internal/audio"
	"github.com/satindergrewal/duet/internal/dsp"
	apperrors "github.com/satindergrewal/duet/internal/errors"
)

// FrameSource draws the picture for a video mixdown.
type FrameSource interface {
	Size() (width, height int)
	FPS() int
	Draw(elapsed time.Duration, dst *image.RGBA)
}

// VideoRecorder muxes master audio and frames from a FrameSource into one
// WebM file with a single ffmpeg process. Raw RGBA frames go in on stdin and
// s16le audio on fd 3. Frames are paced by the audio captured, so both
// streams share one clock from the first block.
type VideoRecorder struct {
	src    FrameSource
	fps    int64
	frame  *image.RGBA
	out    string
	cmd    *exec.Cmd
	video  io.WriteCloser
	audioW *os.File

	mu     sync.Mutex
	q      *pcmQueue
	done   chan struct{}
	audioQ chan []byte
	audioD chan struct{}
	err    error

	samples int64 // frames of audio written
	frames  int64 // video frames written
}

// NewVideoRecorder starts ffmpeg writing to a temporary file in dir.
func NewVideoRecorder(ctx context.Context, ffmpegPath, dir string, src FrameSource) (*VideoRecorder, error) {
	w, h := src.Size()
	fps := max(src.FPS(), 1)

	out, err := os.CreateTemp(dir, "mixdown-*.webm")
	if err != nil {
		return nil, fmt.Errorf("create video file: %w", err)
	}
	out.Close()

	audioR, audioW, err := os.Pipe()
	if err != nil {
		os.Remove(out.Name())
		return nil, fmt.Errorf("audio pipe: %w", err)
	}

	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-y",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", w, h),
		"-r", strconv.Itoa(fps),
		"-i", "pipe:0",
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-i", "pipe:3",
		"-c:v", "libvpx-vp9",
		"-deadline", "realtime",
		"-cpu-used", "8",
		"-b:v", "2M",
		"-c:a", "libopus",
		"-b:a", "128k",
		"-f", "webm",
		out.Name(),
	)
	cmd.ExtraFiles = []*os.File{audioR}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		audioR.Close()
		audioW.Close()
		os.Remove(out.Name())
		return nil, fmt.Errorf("video pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		audioR.Close()
		audioW.Close()
		os.Remove(out.Name())
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	audioR.Close() // the child holds its own copy

	r := &VideoRecorder{
		src:    src,
		fps:    int64(fps),
		frame:  image.NewRGBA(image.Rect(0, 0, w, h)),
		out:    out.Name(),
		cmd:    cmd,
		video:  stdin,
		audioW: audioW,
		q:      newPCMQueue(),
		done:   make(chan struct{}),
		audioQ: make(chan []byte, 256),
		audioD: make(chan struct{}),
	}
	go r.writeAudio()
	go r.run()
	return r, nil
}

func (r *VideoRecorder) writeAudio() {
	defer close(r.audioD)
	for pcm := range r.audioQ {
		if _, err := r.audioW.Write(pcm); err != nil {
			r.setErr(fmt.Errorf("write audio: %w", err))
			for range r.audioQ {
			}
			return
		}
	}
}

func (r *VideoRecorder) run() {
	defer close(r.done)
	defer close(r.audioQ)
	failed := false
	for {
		batch, ok := r.q.next()
		if !ok {
			return
		}
		if failed {
			continue
		}
		for _, pcm := range batch {
			if err := r.writeBlock(pcm); err != nil {
				r.setErr(err)
				failed = true
				break
			}
		}
	}
}

// writeBlock sends one block of audio and the video frames it covers.
func (r *VideoRecorder) writeBlock(pcm []int16) error {
	r.audioQ <- audio.SamplesToBytes(pcm)
	r.samples += int64(len(pcm) / audio.Channels)

	for r.frames*audio.SampleRate < r.samples*r.fps {
		elapsed := time.Duration(r.frames) * time.Second / time.Duration(r.fps)
		r.src.Draw(elapsed, r.frame)
		if _, err := r.video.Write(r.frame.Pix); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
		r.frames++
	}
	return nil
}

func (r *VideoRecorder) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

// WriteBlock queues a master block without blocking, so a stalled encoder
// never holds up rendering. Blocks after Stop are ignored.
func (r *VideoRecorder) WriteBlock(b *dsp.Block) {
	r.q.push(b.Interleaved16(nil))
}

// Stop flushes both streams, waits for ffmpeg and returns the file bytes.
func (r *VideoRecorder) Stop() ([]byte, error) {
	if !r.q.close() {
		return nil, fmt.Errorf("video recorder already stopped")
	}

	<-r.done
	<-r.audioD
	r.video.Close()
	r.audioW.Close()
	waitErr := r.cmd.Wait()
	defer os.Remove(r.out)

	r.mu.Lock()
	err := r.err
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if r.samples == 0 {
		return nil, apperrors.NewExportEmptyError("video")
	}
	if waitErr != nil {
		return nil, fmt.Errorf("ffmpeg: %w", waitErr)
	}
	data, err := os.ReadFile(r.out)
	if err != nil {
		return nil, fmt.Errorf("read video: %w", err)
	}
	if len(data) == 0 {
		return nil, apperrors.NewExportEmptyError("video")
	}
	log.Printf("Video mixdown: %d frames, %.2fs audio, %d bytes",
		r.frames, float64(r.samples)/audio.SampleRate, len(data))
	return data, nil
}

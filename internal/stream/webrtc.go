package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/duet/internal/audio"
)

// peerSet tracks live peer connections and drops them when they fail or close.
type peerSet struct {
	mu    sync.Mutex
	peers []*webrtc.PeerConnection
}

func (s *peerSet) add(pc *webrtc.PeerConnection, label string) {
	s.mu.Lock()
	s.peers = append(s.peers, pc)
	s.mu.Unlock()

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		if st == webrtc.PeerConnectionStateFailed ||
			st == webrtc.PeerConnectionStateClosed ||
			st == webrtc.PeerConnectionStateDisconnected {
			s.remove(pc)
			pc.Close()
			log.Printf("WebRTC %s peer disconnected (remaining: %d)", label, s.count())
		}
	})
}

func (s *peerSet) remove(pc *webrtc.PeerConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.peers {
		if p == pc {
			s.peers = append(s.peers[:i], s.peers[i+1:]...)
			return
		}
	}
}

func (s *peerSet) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// readOffer handles CORS preflight and decodes the SDP offer. It returns
// false when the response has already been written.
func readOffer(w http.ResponseWriter, r *http.Request) (webrtc.SessionDescription, bool) {
	var offer webrtc.SessionDescription
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return offer, false
	}
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return offer, false
	}
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return offer, false
	}
	return offer, true
}

// answer completes negotiation and waits for ICE gathering so the answer
// carries every candidate.
func answer(pc *webrtc.PeerConnection, offer webrtc.SessionDescription) error {
	if err := pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	ans, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(ans); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	<-gathered
	return nil
}

func writeAnswer(w http.ResponseWriter, pc *webrtc.PeerConnection) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

// --- Monitor ---

// WebRTCHandler serves SDP negotiation for a low-latency Opus monitor of
// the master bus.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	bitrate     int
	peers       peerSet
}

// NewWebRTCHandler creates a WebRTC monitor handler.
func NewWebRTCHandler(b *Broadcaster) *WebRTCHandler {
	return &WebRTCHandler{broadcaster: b, bitrate: 128000}
}

// PeerCount returns the number of connected monitor peers.
func (h *WebRTCHandler) PeerCount() int {
	return h.peers.count()
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	offer, ok := readOffer(w, r)
	if !ok {
		return
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		http.Error(w, "create peer connection failed", http.StatusInternalServerError)
		return
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"duet-monitor",
	)
	if err != nil {
		pc.Close()
		http.Error(w, "create audio track failed", http.StatusInternalServerError)
		return
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		http.Error(w, "add track failed", http.StatusInternalServerError)
		return
	}
	if err := answer(pc, offer); err != nil {
		pc.Close()
		log.Printf("WebRTC monitor: %v", err)
		http.Error(w, "negotiation failed", http.StatusBadRequest)
		return
	}

	h.peers.add(pc, "monitor")
	log.Printf("WebRTC monitor peer connected (total: %d)", h.PeerCount())
	go h.streamToPeer(track)

	writeAnswer(w, pc)
}

func (h *WebRTCHandler) streamToPeer(track *webrtc.TrackLocalStaticSample) {
	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		log.Printf("WebRTC monitor: opus encoder error: %v", err)
		return
	}
	enc.SetBitrate(h.bitrate)

	packet := make([]byte, 4000)
	for {
		select {
		case <-listener.Done():
			return
		case frame := <-listener.C:
			n, err := enc.Encode(frame, packet)
			if err != nil {
				log.Printf("WebRTC monitor: opus encode error: %v", err)
				continue
			}
			if err := track.WriteSample(media.Sample{
				Data:     packet[:n],
				Duration: audio.BlockDuration,
			}); err != nil {
				return
			}
		}
	}
}

// --- Microphone ---

// ErrNoMicrophone is returned by MicIngest.Open when no browser has sent
// a microphone track.
var ErrNoMicrophone = errors.New("no browser microphone connected")

// maxOpusFrame is 120ms of stereo at 48kHz, the longest Opus packet.
const maxOpusFrame = 5760 * audio.Channels

// MicIngest receives the browser microphone over WebRTC and exposes it as
// an input device. Packets that arrive while nobody is recording are
// decoded and discarded so the stream stays current.
type MicIngest struct {
	peers peerSet

	mu        sync.Mutex
	connected bool
	sink      chan []int16
}

// NewMicIngest creates an idle microphone endpoint.
func NewMicIngest() *MicIngest {
	return &MicIngest{}
}

// Connected reports whether a browser microphone track is live.
func (m *MicIngest) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MicIngest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	offer, ok := readOffer(w, r)
	if !ok {
		return
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		http.Error(w, "create peer connection failed", http.StatusInternalServerError)
		return
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		http.Error(w, "add transceiver failed", http.StatusInternalServerError)
		return
	}
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		log.Printf("WebRTC microphone track started (%s)", track.Codec().MimeType)
		m.receive(track)
	})
	if err := answer(pc, offer); err != nil {
		pc.Close()
		log.Printf("WebRTC microphone: %v", err)
		http.Error(w, "negotiation failed", http.StatusBadRequest)
		return
	}

	m.peers.add(pc, "microphone")
	writeAnswer(w, pc)
}

// receive decodes packets until the track ends.
func (m *MicIngest) receive(track *webrtc.TrackRemote) {
	dec, err := opus.NewDecoder(audio.SampleRate, audio.Channels)
	if err != nil {
		log.Printf("WebRTC microphone: opus decoder error: %v", err)
		return
	}
	m.setConnected(true)
	defer m.setConnected(false)

	pcm := make([]int16, maxOpusFrame)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Printf("WebRTC microphone track ended: %v", err)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, pcm)
		if err != nil {
			continue
		}
		m.deliver(pcm[:n*audio.Channels])
	}
}

func (m *MicIngest) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

// deliver copies a decoded frame to the active recording, if any.
func (m *MicIngest) deliver(frame []int16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sink == nil {
		return
	}
	select {
	case m.sink <- append([]int16(nil), frame...):
	default:
	}
}

// Open starts delivering interleaved 48kHz stereo frames. It fails when no
// browser microphone is connected or a recording is already open.
func (m *MicIngest) Open(ctx context.Context) (<-chan []int16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, ErrNoMicrophone
	}
	if m.sink != nil {
		return nil, errors.New("microphone already open")
	}
	sink := make(chan []int16, 256)
	m.sink = sink
	go func() {
		<-ctx.Done()
		m.closeSink(sink)
	}()
	return sink, nil
}

// Close ends delivery and closes the frame channel.
func (m *MicIngest) Close() error {
	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()
	m.closeSink(sink)
	return nil
}

func (m *MicIngest) closeSink(sink chan []int16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sink != nil && m.sink == sink {
		close(sink)
		m.sink = nil
	}
}

// Package voice implements the microphone-gated turn-taking voice
// conversation pipeline (spec.md §4.6): idle → listening → transcribing →
// thinking → speaking → listening, driven by energy-based VAD and guarded
// against echo by pausing (not cancelling) the microphone while the
// assistant speaks.
//
// Grounded on the teacher's internal/engine/s2s.Engine: its lazy
// session-owning run loop, per-turn silence-timeout detection
// (forwardAudio's timer.Reset pattern, here generalized from "end of TTS
// audio" to "end of user speech"), and its mutex+closed-flag shutdown
// idiom in Close(), adapted here into a sync.Once-guarded Stop. The keyword-filter shape of
// internal/discord/voicecmd/filter.go informed the event-emission style
// (log then notify) used for transcripts and state transitions here.
package voice

import (
	"context"
	"encoding/binary"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/edge-veda/runtime/internal/scheduler"
	"github.com/edge-veda/runtime/pkg/runtime"
)

// State is one stage of the turn-taking state machine from spec.md §4.6.
type State int

const (
	StateIdle State = iota
	StateListening
	StateTranscribing
	StateThinking
	StateSpeaking
	// StatePaused is a lifecycle state layered on top of the spec's core
	// five states by Pause/Resume (spec.md §4.6 "Cancellation and
	// lifecycle"): the pipeline stops advancing but remembers which state
	// to account for once Resume is called.
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateTranscribing:
		return "transcribing"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

const (
	frameDuration     = 100 * time.Millisecond
	vadThreshold      = 0.03
	minSpeechDuration = 800 * time.Millisecond
	silenceDuration   = 1 * time.Second
	silenceTimeout    = 30 * time.Second
	ttsCooldown       = 800 * time.Millisecond
)

// specialTokenPattern matches the complete set of llama3/chatML/gemma turn
// markers the spec requires be stripped from streamed text before TTS.
var specialTokenPattern = regexp.MustCompile(`<\|[^|>]*\|>|<start_of_turn>|<end_of_turn>`)

// Microphone is the audio-capture boundary a Pipeline drives. Pause must
// not tear down the subscription — only suppress frame delivery — so it
// can be cheaply resumed without renegotiating the audio session.
type Microphone interface {
	Frames() <-chan runtime.AudioFrame
	Pause()
	Resume()
}

// STT transcribes one buffered utterance.
type STT interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
}

// LLM is the streaming text-generation boundary a Pipeline drives for the
// thinking stage. *chat.Session satisfies this directly.
type LLM interface {
	SendStream(ctx context.Context, prompt string, opts runtime.GenerateOptions, cancel *runtime.CancelToken) (<-chan runtime.TokenChunk, error)
}

// TTS synthesizes speech audio for text, closing the returned channel on
// completion (the spec's TTS "finish" event).
type TTS interface {
	Speak(ctx context.Context, text string) (<-chan runtime.AudioFrame, error)
}

// EventKind distinguishes the shapes of event a Pipeline emits.
type EventKind int

const (
	EventStateChanged EventKind = iota
	EventTranscript
	EventAssistantText
	EventError
)

// Event is one pipeline notification, per spec.md §4.6 "Emitted events".
type Event struct {
	Kind    EventKind
	State   State
	RMS     float64 // meaningful only for EventStateChanged in StateListening
	Text    string
	Partial bool
	Fatal   bool
	Err     error
}

// Sink receives Pipeline events. Implementations must not block.
type Sink interface {
	Emit(Event)
}

// Pipeline orchestrates one microphone → STT → LLM → TTS voice
// conversation. Create with New, then call Start.
type Pipeline struct {
	mic   Microphone
	stt   STT
	llm   LLM
	tts   TTS
	sched *scheduler.Scheduler
	sink  Sink

	genOpts runtime.GenerateOptions

	mu         sync.Mutex
	state      State
	preState   State
	turnActive bool
	cancelTurn context.CancelFunc

	audioBuf            []byte
	inSpeech            bool
	speechElapsed       time.Duration
	silenceElapsed      time.Duration
	totalSilenceElapsed time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New returns an idle Pipeline. sched and sink may be nil.
func New(mic Microphone, stt STT, llm LLM, tts TTS, sched *scheduler.Scheduler, sink Sink, genOpts runtime.GenerateOptions) *Pipeline {
	return &Pipeline{
		mic:     mic,
		stt:     stt,
		llm:     llm,
		tts:     tts,
		sched:   sched,
		sink:    sink,
		genOpts: genOpts,
		stopCh:  make(chan struct{}),
	}
}

// State returns the pipeline's current stage.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start registers the voice-pipeline workload at high priority, resumes
// the microphone, and begins listening. Start is a no-op if the pipeline
// is not idle.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return
	}
	if p.sched != nil {
		p.sched.RegisterWorkload(scheduler.WorkloadVoicePipeline, scheduler.PriorityHigh)
	}
	p.setStateLocked(StateListening, 0)
	p.mu.Unlock()

	p.mic.Resume()

	p.wg.Add(1)
	go p.run(ctx)
}

func (p *Pipeline) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			// Not p.Stop(): this branch runs on the same goroutine that
			// wg.Done() fires for on return, and Stop() waits on wg — call
			// the side effects directly or Stop() would deadlock on itself.
			p.stopNoWait()
			return
		case frame, ok := <-p.mic.Frames():
			if !ok {
				return
			}
			p.handleFrame(ctx, frame)
		}
	}
}

// handleFrame implements the listening→transcribing VAD transition from
// spec.md §4.6. Frames received outside StateListening are ignored.
func (p *Pipeline) handleFrame(ctx context.Context, frame runtime.AudioFrame) {
	p.mu.Lock()
	if p.state != StateListening {
		p.mu.Unlock()
		return
	}

	p.audioBuf = append(p.audioBuf, frame.Data...)
	level := rms(frame.Data)
	p.emitLocked(Event{Kind: EventStateChanged, State: StateListening, RMS: level})

	if level >= vadThreshold {
		p.inSpeech = true
		p.speechElapsed += frameDuration
		p.silenceElapsed = 0
		p.totalSilenceElapsed = 0
	} else {
		p.silenceElapsed += frameDuration
		p.totalSilenceElapsed += frameDuration
		if p.totalSilenceElapsed >= silenceTimeout {
			p.audioBuf = nil
			p.resetVADLocked()
			p.setStateLocked(StateIdle, 0)
			p.mu.Unlock()
			return
		}
	}

	endOfTurn := p.inSpeech && p.speechElapsed >= minSpeechDuration && p.silenceElapsed >= silenceDuration
	if !endOfTurn {
		p.mu.Unlock()
		return
	}

	buffered := p.audioBuf
	p.audioBuf = nil
	p.resetVADLocked()
	p.setStateLocked(StateTranscribing, 0)
	p.mu.Unlock()

	p.mic.Pause()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runTurn(ctx, buffered)
	}()
}

func (p *Pipeline) resetVADLocked() {
	p.inSpeech = false
	p.speechElapsed = 0
	p.silenceElapsed = 0
	p.totalSilenceElapsed = 0
}

// runTurn drives transcribing→thinking→speaking→listening for one
// buffered utterance, guarded by the turnActive re-entrancy flag.
func (p *Pipeline) runTurn(ctx context.Context, pcm []byte) {
	p.mu.Lock()
	if p.turnActive {
		p.mu.Unlock()
		return
	}
	p.turnActive = true
	turnCtx, cancel := context.WithCancel(ctx)
	p.cancelTurn = cancel
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.turnActive = false
		p.cancelTurn = nil
		p.mu.Unlock()
		cancel()
	}()

	transcript, err := p.stt.Transcribe(turnCtx, pcm, 16000)
	if err != nil {
		p.emitError(err, false)
		p.backToListening()
		return
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		p.backToListening()
		return
	}
	p.emit(Event{Kind: EventTranscript, Text: transcript})

	p.mu.Lock()
	p.setStateLocked(StateThinking, 0)
	p.mu.Unlock()

	assistantCancel := runtime.NewCancelToken()
	stream, err := p.llm.SendStream(turnCtx, transcript, p.genOpts, assistantCancel)
	if err != nil {
		p.emitError(err, false)
		p.backToListening()
		return
	}

	var reply strings.Builder
	var streamErr error
	for chunk := range stream {
		if chunk.Terminal {
			if chunk.Reason == runtime.FinishError {
				streamErr = chunk.Err
			}
			break
		}
		reply.WriteString(chunk.Text)
	}
	if streamErr != nil {
		p.emitError(streamErr, false)
		p.backToListening()
		return
	}

	assistantText := sanitizeSpecialTokens(reply.String())
	p.emit(Event{Kind: EventAssistantText, Text: assistantText})

	if p.sched != nil && p.sched.LevelFor(scheduler.WorkloadVoicePipeline) == runtime.QoSPaused {
		p.backToListening()
		return
	}

	p.mu.Lock()
	p.setStateLocked(StateSpeaking, 0)
	p.mu.Unlock()

	audioOut, err := p.tts.Speak(turnCtx, assistantText)
	if err != nil {
		p.emitError(err, false)
		p.backToListening()
		return
	}
	for range audioOut {
		// The pipeline does not own audio output; draining here only
		// waits for TTS's "finish" event (the channel closing).
	}

	select {
	case <-time.After(ttsCooldown):
	case <-turnCtx.Done():
	}

	p.backToListening()
}

// backToListening implements the speaking→listening transition: clear the
// frame buffer and VAD counters, then resume the microphone.
func (p *Pipeline) backToListening() {
	p.mu.Lock()
	if p.state == StatePaused || p.state == StateIdle {
		p.mu.Unlock()
		return
	}
	p.audioBuf = nil
	p.resetVADLocked()
	p.setStateLocked(StateListening, 0)
	p.mu.Unlock()
	p.mic.Resume()
}

// Pause cancels any in-flight LLM/TTS/STT work for the current turn,
// pauses (without cancelling) the microphone subscription, and records
// the pre-pause state for diagnostic purposes.
func (p *Pipeline) Pause() {
	p.mu.Lock()
	if p.state == StatePaused || p.state == StateIdle {
		p.mu.Unlock()
		return
	}
	p.preState = p.state
	if p.cancelTurn != nil {
		p.cancelTurn()
	}
	p.setStateLocked(StatePaused, 0)
	p.mu.Unlock()

	p.mic.Pause()
}

// Resume reconfigures the audio session (which may have been deactivated
// by the OS while paused) and returns to listening.
func (p *Pipeline) Resume() {
	p.mu.Lock()
	if p.state != StatePaused {
		p.mu.Unlock()
		return
	}
	p.audioBuf = nil
	p.resetVADLocked()
	p.setStateLocked(StateListening, 0)
	p.mu.Unlock()

	p.mic.Resume()
}

// Stop cancels in-flight work, unregisters the voice-pipeline workload,
// and halts the pipeline's run loop. Idempotent.
func (p *Pipeline) Stop() {
	p.stopNoWait()
	p.wg.Wait()
}

// stopNoWait performs Stop's idempotent side effects without waiting on
// p.wg. run's ctx.Done() branch calls this directly: it runs on the
// goroutine wg.Done() fires for on return, so waiting here would deadlock.
func (p *Pipeline) stopNoWait() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		if p.cancelTurn != nil {
			p.cancelTurn()
		}
		p.setStateLocked(StateIdle, 0)
		p.mu.Unlock()

		p.mic.Pause()
		if p.sched != nil {
			p.sched.UnregisterWorkload(scheduler.WorkloadVoicePipeline)
		}
		close(p.stopCh)
	})
}

func (p *Pipeline) setStateLocked(s State, rms float64) {
	p.state = s
	p.emitLocked(Event{Kind: EventStateChanged, State: s, RMS: rms})
}

func (p *Pipeline) emit(e Event) {
	if p.sink == nil {
		return
	}
	p.sink.Emit(e)
}

func (p *Pipeline) emitLocked(e Event) {
	if p.sink == nil {
		return
	}
	p.sink.Emit(e)
}

func (p *Pipeline) emitError(err error, fatal bool) {
	p.emit(Event{Kind: EventError, Err: err, Fatal: fatal})
}

// rms computes the root-mean-square amplitude of a little-endian int16 PCM
// buffer, normalized to [0,1].
func rms(data []byte) float64 {
	n := len(data) / 2
	if n == 0 {
		return 0
	}
	var sumSquares float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
		v := float64(sample) / 32768.0
		sumSquares += v * v
	}
	return math.Sqrt(sumSquares / float64(n))
}

// sanitizeSpecialTokens strips any leaked llama3/chatML/gemma turn markers
// from streamed model output before it reaches TTS, per spec.md §4.6.
func sanitizeSpecialTokens(text string) string {
	return strings.TrimSpace(specialTokenPattern.ReplaceAllString(text, ""))
}

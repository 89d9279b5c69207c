package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/parley/internal/logger"
)

// SpeechClient is the part of openai.Client the engine needs.
type SpeechClient interface {
	CreateSpeech(ctx context.Context, request openai.CreateSpeechRequest) (openai.RawResponse, error)
}

// Sink plays synthesized audio, returning when playback is over.
type Sink interface {
	Play(ctx context.Context, audio io.Reader) error
}

// OpenAIEngine synthesizes each segment with the OpenAI speech endpoint and
// streams the audio into a Sink.
type OpenAIEngine struct {
	client SpeechClient
	sink   Sink
	model  openai.SpeechModel
	voice  openai.SpeechVoice
	locale string
	rate   float64

	mu     sync.Mutex
	cancel context.CancelFunc
}

// EngineOptions are the fixed per-utterance settings.
type EngineOptions struct {
	Model  string
	Voice  string
	Locale string
	Rate   float64
}

func NewOpenAIEngine(client SpeechClient, sink Sink, opts EngineOptions) *OpenAIEngine {
	if opts.Model == "" {
		opts.Model = string(openai.TTSModel1)
	}
	if opts.Voice == "" {
		opts.Voice = string(openai.VoiceAlloy)
	}
	if opts.Rate <= 0 {
		opts.Rate = 1
	}
	return &OpenAIEngine{
		client: client,
		sink:   sink,
		model:  openai.SpeechModel(opts.Model),
		voice:  openai.SpeechVoice(opts.Voice),
		locale: opts.Locale,
		rate:   opts.Rate,
	}
}

// Start implements Engine.
func (e *OpenAIEngine) Start(segment string, done func(error)) {
	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.cancel = cancel
	e.mu.Unlock()

	go func() {
		defer cancel()
		err := e.speak(ctx, segment)
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		done(err)
	}()
}

// Cancel implements Engine.
func (e *OpenAIEngine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

func (e *OpenAIEngine) speak(ctx context.Context, segment string) error {
	logger.L.Debug("synthesizing segment", "chars", len(segment), "voice", e.voice, "locale", e.locale, "rate", e.rate)
	resp, err := e.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          e.model,
		Input:          segment,
		Voice:          e.voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          e.rate,
	})
	if err != nil {
		return fmt.Errorf("create speech: %w", err)
	}
	defer resp.Close()
	return e.sink.Play(ctx, resp)
}

// FileSink writes every utterance to a numbered mp3 file in Dir.
type FileSink struct {
	Dir string
	n   atomic.Int64
}

func (f *FileSink) Play(ctx context.Context, audio io.Reader) error {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return err
	}
	name := filepath.Join(f.Dir, fmt.Sprintf("segment-%04d.mp3", f.n.Add(1)))
	out, err := os.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, &ctxReader{ctx: ctx, r: audio})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

// CommandSink pipes audio into an external player such as `mpv -`.
type CommandSink struct {
	Command []string
}

func (c *CommandSink) Play(ctx context.Context, audio io.Reader) error {
	if len(c.Command) == 0 {
		return errors.New("no player command configured")
	}
	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	cmd.Stdin = audio
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("player %s: %w", c.Command[0], err)
	}
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

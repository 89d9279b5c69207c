package speech

import (
	"errors"
	"fmt"
	"strings"

	"github.com/comigor/parley/internal/config"
	"github.com/comigor/parley/internal/llm"
)

// ErrDisabled is returned by NewEngine when speech is turned off.
var ErrDisabled = errors.New("speech disabled")

// NewEngine builds the engine named by cfg.Speech.Engine. The speech
// credentials default to the model credentials when the model provider is
// OpenAI.
func NewEngine(cfg config.Config) (Engine, error) {
	sc := cfg.Speech
	switch strings.ToLower(sc.Engine) {
	case "", "none", "off":
		return nil, ErrDisabled
	case "openai":
	default:
		return nil, fmt.Errorf("unsupported speech engine %q", sc.Engine)
	}

	creds := config.LLMConfig{APIKey: sc.APIKey, BaseURL: sc.BaseURL}
	if creds.APIKey == "" && strings.EqualFold(cfg.LLM.Provider, "openai") {
		creds.APIKey, creds.BaseURL = cfg.LLM.APIKey, cfg.LLM.BaseURL
	}
	if creds.APIKey == "" {
		return nil, fmt.Errorf("%w: no API key for the openai speech engine", ErrDisabled)
	}

	var sink Sink
	switch strings.ToLower(sc.Sink) {
	case "", "file":
		sink = &FileSink{Dir: sc.OutputDir}
	case "command":
		sink = &CommandSink{Command: sc.Player}
	default:
		return nil, fmt.Errorf("unsupported speech sink %q", sc.Sink)
	}

	return NewOpenAIEngine(llm.NewClient(creds), sink, EngineOptions{
		Model:  sc.Model,
		Voice:  sc.Voice,
		Locale: sc.Locale,
		Rate:   sc.Rate,
	}), nil
}

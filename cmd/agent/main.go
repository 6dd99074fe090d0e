package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/duplexcall/duplexcall/pkg/agent"
	"github.com/duplexcall/duplexcall/pkg/config"
	"github.com/duplexcall/duplexcall/pkg/memory"
	"github.com/duplexcall/duplexcall/pkg/orchestrator"
	"github.com/duplexcall/duplexcall/pkg/outputdevice"
	"github.com/duplexcall/duplexcall/pkg/providers/embedding"
	llmProvider "github.com/duplexcall/duplexcall/pkg/providers/llm"
	sttProvider "github.com/duplexcall/duplexcall/pkg/providers/stt"
	ttsProvider "github.com/duplexcall/duplexcall/pkg/providers/tts"
	"github.com/duplexcall/duplexcall/pkg/synthesizer"
	"github.com/duplexcall/duplexcall/pkg/tokenizer"
	"github.com/duplexcall/duplexcall/pkg/transcriber"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zl, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zl.Sync()
	logger := orchestrator.NewZapLogger(zl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := orchestrator.InitTracing(ctx, "duplexcall-agent", cfg.TracingSampleRatio)
	if err != nil {
		logger.Warn("tracing init failed, continuing without it", "err", err)
	} else {
		defer tp.Shutdown(ctx)
	}

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", cfg.MetricsPort)
		if err := http.ListenAndServe(addr, nil); err != nil {
			logger.Warn("metrics server stopped", "err", err)
		}
	}()

	if cfg.LokutorAPIKey == "" {
		log.Fatal("LOKUTOR_API_KEY must be set")
	}

	stt := buildSTT(cfg)
	llm := buildLLM(cfg)
	tts := ttsProvider.NewLokutorTTS(cfg.LokutorAPIKey)

	vad := transcriber.NewRMSVAD(0.02, 500*time.Millisecond)
	transcriberCfg := orchestrator.TranscriberConfig{MinInterruptConfidence: 0.3, MuteDuringSpeech: false}
	trans := transcriber.NewLocalMicTranscriber(stt, vad, cfg.Language(), transcriberCfg, logger)

	// Local capture and local playback share the same speakers and
	// microphone, so the mic otherwise hears whatever the agent just said.
	echoSuppressor := transcriber.NewEchoSuppressor()
	trans.SetEchoSuppressor(echoSuppressor)

	tok := tokenizer.NewTiktokenTokenizer(cfg.LLMProvider)

	agentOpts := []agent.Option{
		agent.WithTokenizer(tok),
		agent.WithLogger(logger),
	}

	var vdb memory.VectorDB
	if cfg.VectorMemoryEnabled && cfg.PostgresDSN != "" {
		embedder := embedding.NewOpenAIEmbedder(cfg.OpenAIAPIKey, "")
		pgVectorDB, err := memory.NewPostgresVectorDB(ctx, cfg.PostgresDSN, cfg.EmbeddingDimensions, embedder)
		if err != nil {
			logger.Warn("vector memory disabled: connect failed", "err", err)
		} else {
			vdb = pgVectorDB
			agentOpts = append(agentOpts, agent.WithVectorDB(vdb))
		}
	}

	systemPrompt := "You are a helpful and concise voice assistant. Use short sentences suitable for speech."
	if cfg.Language() == orchestrator.LanguageEs {
		systemPrompt = "Eres un asistente de voz util y conciso. Usa frases cortas adecuadas para el habla."
	}

	agentConfig := orchestrator.AgentConfig{
		EndConversationOnGoodbye: true,
		AllowedIdleTimeSeconds:   15 * 60,
		SendBackTrackingAudio:    true,
		SendFollowUpAudio:        true,
	}
	simpleAgent := agent.NewSimpleAgent(llm, systemPrompt, agentConfig, agentOpts...)

	ttsCache := synthesizer.NewMemoryCache()
	synthCfg := orchestrator.SynthesizerConfig{SamplingRate: cfg.SampleRate, AudioEncoding: orchestrator.AudioEncodingLinear16}
	synth := synthesizer.NewTTSSynthesizer(tts, synthCfg, orchestrator.VoiceF1, cfg.Language(),
		synthesizer.WithCache(ttsCache),
		synthesizer.WithLogger(logger),
	)

	outputDevice := outputdevice.NewLocalDevice(cfg.SampleRate, orchestrator.AudioEncodingLinear16, logger)
	outputDevice.SetOnPlay(echoSuppressor.RecordPlayedAudio)

	convOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithRandomAudio(buildPhraseBanks(ctx, ttsCache, tts, cfg.Language(), logger)),
	}
	if vdb != nil {
		convOpts = append(convOpts, orchestrator.WithVectorMemory(vdb))
	}
	conv := orchestrator.NewConversation("", trans, simpleAgent, synth, outputDevice, cfg.OrchestratorConfig(), convOpts...)

	if err := conv.Start(ctx); err != nil {
		log.Fatalf("conversation start: %v", err)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer mctx.Uninit()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if pInput == nil {
			return
		}
		chunk := make([]byte, len(pInput))
		copy(chunk, pInput)
		trans.SendAudio(chunk)
	}

	captureDevice, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		log.Fatal(err)
	}
	defer captureDevice.Uninit()
	if err := captureDevice.Start(); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Configured: STT=%s | LLM=%s | TTS=Lokutor\n", cfg.STTProvider, cfg.LLMProvider)
	fmt.Printf("Sample Rate: %dHz | Language: %s\n", cfg.SampleRate, cfg.Language())
	fmt.Println("Voice agent started, listening to microphone. Press Ctrl+C to exit.")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("\nShutting down...")
	conv.Terminate(context.Background())
}

// fillerPhrases, backTrackPhrases and followUpPhrases are the canned
// utterances RandomAudioManager picks from while the agent is thinking,
// right after the user interrupts it, and after each bot reply.
var (
	fillerPhrases    = []string{"Let me think about that.", "One moment, please.", "Hmm, let's see."}
	backTrackPhrases = []string{"Sorry, go ahead.", "Oh, please continue."}
	followUpPhrases  = []string{"Are you still there?", "Just checking in, are you still with me?"}
)

// buildPhraseBanks synthesizes the filler/back-tracking/follow-up phrase
// texts through the same cache backing the main synthesizer, keyed by
// (voice, language, text), so each phrase is only ever synthesized once per
// voice regardless of how many conversations the agent runs.
func buildPhraseBanks(ctx context.Context, cache orchestrator.PhraseCache, tts orchestrator.TTSProvider, lang orchestrator.Language, logger orchestrator.Logger) (filler, backTrack, followUp []orchestrator.AudioPhrase) {
	synthesize := func(ctx context.Context, text string) ([]byte, error) {
		return tts.Synthesize(ctx, text, orchestrator.VoiceF1, lang)
	}

	var err error
	if filler, err = orchestrator.ResolvePhraseBank(ctx, cache, orchestrator.VoiceF1, lang, synthesize, fillerPhrases); err != nil {
		logger.Warn("filler phrase bank synthesis failed, continuing without it", "err", err)
	}
	if backTrack, err = orchestrator.ResolvePhraseBank(ctx, cache, orchestrator.VoiceF1, lang, synthesize, backTrackPhrases); err != nil {
		logger.Warn("back-tracking phrase bank synthesis failed, continuing without it", "err", err)
	}
	if followUp, err = orchestrator.ResolvePhraseBank(ctx, cache, orchestrator.VoiceF1, lang, synthesize, followUpPhrases); err != nil {
		logger.Warn("follow-up phrase bank synthesis failed, continuing without it", "err", err)
	}
	return filler, backTrack, followUp
}

func buildSTT(cfg *config.AppConfig) orchestrator.STTProvider {
	var stt orchestrator.STTProvider
	switch cfg.STTProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Fatal("OPENAI_API_KEY must be set for openai STT")
		}
		stt = sttProvider.NewOpenAISTT(cfg.OpenAIAPIKey, "whisper-1")
	case "deepgram":
		if cfg.DeepgramAPIKey == "" {
			log.Fatal("DEEPGRAM_API_KEY must be set for deepgram STT")
		}
		stt = sttProvider.NewDeepgramSTT(cfg.DeepgramAPIKey)
	case "assemblyai":
		if cfg.AssemblyAIAPIKey == "" {
			log.Fatal("ASSEMBLYAI_API_KEY must be set for assemblyai STT")
		}
		stt = sttProvider.NewAssemblyAISTT(cfg.AssemblyAIAPIKey)
	case "groq":
		fallthrough
	default:
		if cfg.GroqAPIKey == "" {
			log.Fatal("GROQ_API_KEY must be set for groq STT")
		}
		stt = sttProvider.NewGroqSTT(cfg.GroqAPIKey, cfg.GroqSTTModel)
	}
	if s, ok := stt.(interface{ SetSampleRate(int) }); ok {
		s.SetSampleRate(cfg.SampleRate)
	}
	return stt
}

func buildLLM(cfg *config.AppConfig) orchestrator.LLMProvider {
	switch cfg.LLMProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Fatal("OPENAI_API_KEY must be set for openai LLM")
		}
		return llmProvider.NewOpenAILLM(cfg.OpenAIAPIKey, "gpt-4o")
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Fatal("ANTHROPIC_API_KEY must be set for anthropic LLM")
		}
		return llmProvider.NewAnthropicLLM(cfg.AnthropicAPIKey, "claude-3-5-sonnet-20241022")
	case "google":
		if cfg.GoogleAPIKey == "" {
			log.Fatal("GOOGLE_API_KEY must be set for google LLM")
		}
		return llmProvider.NewGoogleLLM(cfg.GoogleAPIKey, "gemini-1.5-flash")
	case "groq":
		fallthrough
	default:
		if cfg.GroqAPIKey == "" {
			log.Fatal("GROQ_API_KEY must be set for groq LLM")
		}
		return llmProvider.NewGroqLLM(cfg.GroqAPIKey, "llama-3.3-70b-versatile")
	}
}

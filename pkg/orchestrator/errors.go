package orchestrator

import "errors"

var (
	ErrEmptyTranscription = errors.New("transcription returned empty text")

	ErrTranscriptionFailed = errors.New("speech-to-text transcription failed")

	ErrLLMFailed = errors.New("language model generation failed")

	ErrTTSFailed = errors.New("text-to-speech synthesis failed")

	ErrNilProvider = errors.New("required provider is nil")

	ErrContextCancelled = errors.New("operation cancelled by context")

	// ErrConversationTerminated reports that a Conversation has already been
	// terminated. No method in this package returns it.
	ErrConversationTerminated = errors.New("conversation already terminated")

	// ErrInterruptibleEventAlreadyInterrupted reports a second interruption of
	// the same InterruptibleEvent. No method in this package returns it;
	// InterruptibleEvent.Interrupt reports a repeated call by returning false.
	ErrInterruptibleEventAlreadyInterrupted = errors.New("interruptible event already interrupted")

	// ErrSynthesisMissingPair is returned when a SynthesisResult arrives at
	// the SynthesisResults stage with no matching AgentResponse to pace it against.
	ErrSynthesisMissingPair = errors.New("synthesis result has no matching agent response")
)

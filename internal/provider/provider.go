package provider

import "context"

// Retriever supplies retrieved context for a question, searched across
// the named knowledge sources.
type Retriever interface {
	RetrieveContext(question string, sources []string) (string, error)
}

// Stream configures incremental delivery of a generation. OnChunk fires
// for every piece of text the model emits; OnDone fires once with the
// complete response.
type Stream struct {
	OnChunk func(text string)
	OnDone  func(full string)
}

// Request is a single generation call. System is a prompt template with
// {contexto} and {pergunta} placeholders, substituted with the retrieved
// context and the question before the call.
type Request struct {
	System   string
	Question string
	Sources  []string
	Stream   *Stream // nil waits for the complete response
}

// Generator is the abstraction over the external generation service.
// It returns the complete response text either way; with a Stream the
// same text is also delivered incrementally through the callbacks.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	Name() string
}

package provider

import "context"

// Request carries one batch's translation call. Payload is already shaped
// by the job's workflow; the handle only transports it.
type Request struct {
	Payload        string
	SourceLanguage string
	TargetLanguage string
	// Instructions is the workflow's response-format contract, appended
	// to the provider's system prompt.
	Instructions string
}

// Chunk is one increment of a streaming response.
type Chunk struct {
	Text string
	Err  error
}

// Handle is an opaque translate capability bound to one (provider,
// credential) pair. Handles are stateless with regard to translation
// logic and safe for concurrent use.
type Handle interface {
	Name() string
	Translate(ctx context.Context, req Request) (string, error)
}

// StreamingHandle is implemented by providers that can yield the response
// incrementally. The channel is closed after the final chunk; a chunk
// with Err set terminates the stream.
type StreamingHandle interface {
	Handle
	TranslateStream(ctx context.Context, req Request) (<-chan Chunk, error)
}

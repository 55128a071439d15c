package unifiedllm

import "context"

// Streamer opens one streaming round-trip to a resolved provider and
// returns the decoder over its response. Client is the HTTP
// implementation; tests substitute scripted decoders.
type Streamer interface {
	Stream(ctx context.Context, target Target, req Request) (StreamDecoder, error)
}

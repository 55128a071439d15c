// Package unifiedllm provides the provider-agnostic side of the agent loop:
// a canonical conversation model, a provider registry, converters to the
// OpenAI and Anthropic wire formats, streaming decoders for both SSE
// dialects, and a tool-call accumulator.
//
// # Architecture
//
// The package is organized in layers, leaves first:
//
//   - Registry: static provider catalog and credential resolution
//   - Converters: canonical Message <-> OpenAI / Anthropic wire schemas
//   - StreamDecoder: pull-based SSE decoding into canonical StreamEvents
//   - ToolCallAccumulator: reassembly of fragmented tool calls by slot
//   - Client: one streaming HTTP round-trip per call, no retries
//
// # Quick Start
//
//	registry := unifiedllm.NewRegistry()
//	target, err := registry.Resolve("anthropic", "")
//	if err != nil {
//	    return err // *ConfigurationError when no key is available
//	}
//
//	client := unifiedllm.NewClient()
//	dec, err := client.Stream(ctx, target, unifiedllm.Request{
//	    Model:     "claude-sonnet-4-5-20250929",
//	    Messages:  []unifiedllm.Message{unifiedllm.UserMessage("Hello")},
//	    MaxTokens: 1024,
//	})
//	if err != nil {
//	    return err
//	}
//	defer dec.Close()
//
//	acc := unifiedllm.NewToolCallAccumulator()
//	for dec.Next() {
//	    switch ev := dec.Event(); ev.Type {
//	    case unifiedllm.TextDelta:
//	        fmt.Print(ev.Delta)
//	    case unifiedllm.ToolCallDelta:
//	        acc.Add(*ev.ToolCall)
//	    }
//	}
//	calls := acc.Finalize()
//
// # Errors
//
// ConfigurationError and TransportError are terminal for a request.
// DecodeError is logged and the frame skipped. An explicit error frame
// inside a stream arrives as a StreamError event carrying a ProviderError.
// Every error message that may contain a credential passes through Redact.
package unifiedllm

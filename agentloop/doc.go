// Package agentloop runs the tool-using chat loop behind tetsuocode.
//
// A Session takes one chat request, streams a model turn through a
// unifiedllm.Streamer, forwards text and usage to the client as they arrive,
// and when the model asks for tools runs them in slot order against the
// workspace before asking again. A run ends with a done event, an error
// event, or the client going away. At most ten provider requests are made
// per run.
//
// # Architecture
//
//   - Session: the per-request controller and its state machine.
//   - ToolRegistry: tool definitions paired with their executors. The six
//     core tools read, write and edit files, run commands, list files and
//     search the workspace.
//   - ExecutionEnvironment: where tools run. The local implementation
//     confines every path to the workspace root and strips credentials from
//     subprocess environments.
//   - EditStore: pending edits for approval mode and the undo history. It is
//     shared by every session of a server.
//   - Emitter: ordered delivery of client events.
//
// # Quick Start
//
//	ws, err := agentloop.NewWorkspace("/path/to/project")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	env := agentloop.NewLocalExecutionEnvironment(ws)
//	edits := agentloop.NewEditStore()
//	session := agentloop.NewSession(client, target, env, edits, agentloop.DefaultSessionConfig())
//
//	emitter := agentloop.NewEventEmitter(64)
//	go func() {
//	    defer emitter.Close()
//	    session.Run(ctx, history, emitter)
//	}()
//	for ev := range emitter.Events() {
//	    fmt.Printf("[%s] %s\n", ev.Type, ev.Content)
//	}
package agentloop

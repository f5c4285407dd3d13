// Package conversation is the gateway's conversation subsystem.
//
// # Overview
//
// The package sits between the frontends (HTTP API, websocket, Matrix
// bridge) and the conversation agent. It provides:
//
//   - Agent: the capability an assistant integration implements
//   - Registry: where the active agent is registered and unloaded
//   - Service: processes utterances and records every exchange
//   - EventBroadcaster: live fan-out of recorded events
//
// # Registering an Agent
//
//	reg := conversation.NewRegistry()
//	reg.SetAgent(myAgent)  // load
//	reg.SetAgent(nil)      // unload
//
// While no agent is registered, Process fails with ErrNoAgent.
//
// # Processing
//
//	svc := conversation.New(store, reg, broadcaster, logger)
//	resp, err := svc.Process(ctx, &conversation.ProcessRequest{
//	    Text:     "turn on the lights",
//	    Frontend: "http",
//	})
//
// The service follows a record-first rule:
//
//  1. The utterance is saved as an inbound ledger event
//  2. The registered agent processes it
//  3. The speech (or the error text) is saved as an outbound event
//
// Agent errors are returned unchanged; deciding what the user sees is the
// frontend's job.
//
// # Conversation IDs
//
// A request without a conversation ID gets a fresh UUID. When the agent
// answers under a different ID (Almond assigns its own), that ID wins: the
// reply is recorded under it and returned, so frontends continue there.
//
// # Live Events
//
// Every recorded event is published to subscribers of its conversation ID:
//
//	events := svc.Subscribe(ctx, conversationID)
//
// Subscriptions end when ctx is cancelled. Slow subscribers lose events
// rather than blocking the publisher.
package conversation

// Package agent provides the conversation agents the gateway can register.
//
// AlmondAgent answers utterances by forwarding them to an Almond assistant
// service and speaking its reply:
//
//	client := almond.NewClient(almond.NewLocalTransport("http://localhost:3000", nil))
//	registry.SetAgent(agent.NewAlmondAgent(client, logger))
//
// The agent keeps no state between calls. Errors from the client (network,
// auth or protocol) are returned exactly as the client produced them.
package agent

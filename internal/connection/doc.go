// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns one WebSocket connection to the workflow trigger server
//   - Drives the connection through DISCONNECTED, CONNECTING, CONNECTED,
//     RECONNECTING and FAILED
//   - Reconnects with jittered exponential backoff, at most 20 attempts
//     per failure episode
//   - Probes liveness with JSON ping/pong and scores latency
//   - Queues sends made while offline and replays them in order
//   - Broadcasts state, health, queue and inbound message events
package connection

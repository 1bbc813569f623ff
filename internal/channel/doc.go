// Package channel implements the message protocol between a gadget and an
// isolated child gadget running in another execution context.
//
// Messages are scoped (Scope), correlated by call ID and encoded with
// sonic. A Channel runs a ping/pong ready handshake, then serves bound
// handlers and issues calls and notifications. Handlers may answer later
// through Transaction.Delay and Complete/Error. Transports are in-process
// (Pipe) or websocket (WebSocket, Dial).
package channel

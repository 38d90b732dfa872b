// Package ws streams supervisor state to WebSocket clients.
//
// On connect the client receives the current status, then one frame per
// state transition until it disconnects or the supervisor stops.
//
// Message Types (Client → Server):
//   - ping: Keep-alive ping
//   - status: Request the current status
//
// Message Types (Server → Client):
//   - status: Current supervisor status
//   - event: A state transition
//   - pong: Reply to ping
//   - closed: The supervisor stopped
//   - error: Unknown or malformed request
//
// Example Usage:
//
//	handler := ws.NewHandler(sup, logger)
//	router.GET("/_bridge/events", handler.HandleConnection)
package ws

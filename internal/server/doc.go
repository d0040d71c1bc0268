// Package server implements the real-time transport of the chat service.
//
// A WebSocket handshake runs a session that authenticates the credential,
// checks group membership, and only then registers the connection with the
// Hub. Inbound messages are persisted through the MessageStore and fanned
// out by the Router to every connection of the same group. The package also
// serves the HTTP API for history and deletion, accounts, and groups.
package server

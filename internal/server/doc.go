// Package server implements the REST and real-time surfaces of the chat
// backend.
//
// A Hub keeps every admitted connection in exactly one room: the tenant room
// of its server namespace or the room of one chat. The Gate admits a
// connection before the protocol upgrade. HubNotifier turns committed
// membership and message changes into room events, and the REST handlers
// drive the chat service under the same error mapping the gate uses.
package server

// Package pipe turns the byte stream of one physical channel into complete protocol
// frames and correlates them with requests.
//
// A Pipe wraps a Transport (see tcppipe, udppipe, serialpipe and tlspipe) and adds:
//
//   - the framing engine, driven by a message.Descriptor per request;
//   - Transact, the serialized send, receive and match cycle;
//   - the active-push listener for devices that emit unsolicited frames;
//   - the connection health counter that callers use to decide when to reconnect.
//
// A Pipe never reopens a faulted channel by itself. Callers check IsFaulted and call
// Open again.
package pipe

// Package zabertcp implements the stage.Transport contract over a TCP
// session to a Zaber ASCII device, typically a serial-to-ethernet adapter
// in front of the stage controller.
//
// A Connection owns the socket, a receiver goroutine that decodes reply
// lines and routes them to waiting callers by message id, and the retry
// policy for connection establishment. One Connection serves exactly one
// stage instance; independent stages use independent Connections and never
// share state.
package zabertcp

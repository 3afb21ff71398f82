// Package amqp provides the session and handshake core of an AMQP client.
//
// The primary lifecycle is:
//   - construct a Client with NewClient and a Dialer for the framed transport
//   - Start to negotiate SASL and tuning and open the virtual host
//   - OpenSession for each independently sequenced channel
//   - read deliveries from DeliveryQueue and run commands with Session.Execute
//   - CloseSession and Close when finished
//
// Start blocks until the handshake is tuned or the connection has closed.
// Every frame from the connection is handled on one dispatch goroutine; the
// exported Client and Session methods are safe for concurrent use.
//
// Closing the client, or losing the connection, fails every blocked waiter:
// Start, delivery queue reads, futures and synchronous session calls all
// return the closure reason.
//
// Errors are reported as typed errors created with NewError. Events the
// dispatcher cannot apply are passed to the handler set with SetErrorHandler
// and never stop dispatch.
package amqp

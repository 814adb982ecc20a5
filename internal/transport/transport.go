// Package transport provides an in-process stand-in for internal/rpc,
// used by tests and cmd/demo to run a multi-node cluster inside a
// single Go process with no sockets. It implements exactly the same
// call surface internal/rpc's Client does (paxos.Transport plus the
// wider recovery/forwarding calls), routing every call straight into
// the destination node's rpc.Handler implementation with no
// serialization and no simulated delay.
//
// This is the teacher's pluggable-transport idea generalized from
// single-decree Paxos to the full peer protocol: a Node built against
// this package and a Node built against internal/rpc are identical in
// every way except how a call physically reaches a peer.
package transport

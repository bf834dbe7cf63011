// Package message defines the Message Descriptor contract consumed by the pipe
// framing engine, plus reusable descriptors for the common framing shapes.
//
// A Descriptor is created per logical request and discarded after the exchange.
// It tells the engine how to recognize a complete frame and how to validate that a
// response matches its request. The engine picks one framing Strategy per
// descriptor from the sign of its header length:
//
//   - positive: a fixed-size header followed by ContentLength bytes (StrategyFixedHeader)
//   - negative: a packed sentinel spec, see PackSentinel (StrategySentinel1, StrategySentinel2)
//   - zero: the descriptor's CheckReceiveComplete predicate decides (StrategyCustom)
//   - nil descriptor: one transport read is one frame (StrategyRaw)
//
// Protocol packages usually embed Base in their own descriptor type and override
// only the methods they need.
package message

// Package webhooks verifies the authenticity of inbound deliveries. The
// verifier operates on the exact raw request bytes; nothing in the
// pipeline parses a payload before verification succeeds.
package webhooks

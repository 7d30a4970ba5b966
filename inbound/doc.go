// Package inbound is the HTTP surface of the intake pipeline. Handlers
// read the exact raw request bytes before anything parses them, build a
// core.InboundRequest, and translate pipeline results and error envelopes
// into JSON responses. It also serves the canonical read path presentation
// layers use to decide between populated and placeholder rendering.
package inbound

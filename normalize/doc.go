// Package normalize converts verified raw payloads into the single typed
// event shape the rest of the pipeline consumes. Each source declares a
// contract mapping its wire field names onto canonical ones; validation
// reports every failing field in one pass rather than stopping at the
// first.
package normalize

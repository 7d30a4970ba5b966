// Package core defines the shared contracts for the intake pipeline:
// the inbound request/result shapes, the receipt and canonical document
// types, the store interfaces the leaf packages implement, and the error
// envelope conventions used across package boundaries.
package core

// Package orderservice owns the engagement order lifecycle: creation with
// balance reservation and baseline capture, the status state machine, the
// progress monitor that stops traffic near the target, and the delivery
// verifier that confirms the ordered quantity actually landed.
package orderservice

// Package credential resolves, per outbound call to an execution backend,
// which credential material and endpoint configuration to forward.
//
// Resolution is mode-gated: in subscription-token mode no direct API key
// can ever appear in the output, even when one is configured or present in
// the ambient environment. That guarantee is enforced structurally (the
// subscription constructor cannot populate the key field) and again at env
// assembly (the forbidden variable is explicitly blanked), so a
// misconfigured downstream cannot inherit an ambient key.
//
// Resolve is pure given its inputs: the record, the mode, the shared-store
// snapshot, and an environment snapshot. No hidden globals are read, which
// keeps the mode x source matrix exhaustively unit-testable.
package credential

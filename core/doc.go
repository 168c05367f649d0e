// Package core defines the data contracts shared by the detection and grounding layers of warden.
//
// # Overview
//
// The core package provides:
//   - Event, the canonical authentication record produced by ingest
//   - Finding, the deterministic result emitted by the signal engine
//   - RiskItem and CommandBlock, the typed view of validated generator output
//   - Sentinel errors for the error taxonomy shared by every stage
//
// Nothing in this package holds mutable state; every run owns its own engine,
// allowlist and risk register.
package core

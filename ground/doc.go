// Package ground keeps generated text anchored to what the logs actually show.
//
// An Allowlist is built once per run from the ingested events. Suppress drops
// every line that names an email or IP address outside that allowlist, and a
// RiskRegister turns the surviving bullet lines into stable R1..Rn risk items
// with an inferred principal each.
package ground

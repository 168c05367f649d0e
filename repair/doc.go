// Package repair enforces the Item/Command pairing contract on generated
// investigation plans.
//
// Every "- Item:" line must be followed by a "Command:" line whose value is
// either a read-only jq pipeline over the single designated data file or the
// literal "No data". Commands that fail the Grammar are replaced by a command
// from the Catalogue, keyed on the item text and the principal of the
// enclosing [R<n>] risk block.
package repair

// Package geo resolves IP addresses to coarse locations by running the
// external nali program once per lookup.
//
// The flow is Service -> Checker (nali -v) -> Invoker (nali <ip>) ->
// ParseLocation. Every lookup spawns and reaps its own child, captures at
// most a bounded amount of stdout, and writes into caller-owned Buffers
// that never grow past their capacity.
//
// Continent and country are always Placeholder: nali reports a single
// free-form location, which is stored in the city field.
package geo

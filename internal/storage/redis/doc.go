// Package redis stores claim records as Redis hashes and uses WATCH/MULTI
// transactions to give the claim registry insert-if-absent and
// compare-and-swap semantics across processes.
package redis

// Package arena drives a match between two robot runners.
//
// The arena package owns the turn loop: it sets both runners up
// concurrently, awaits both initializations, then requests one turn from
// each side per round and folds the results through a pluggable Engine.
// The game rules themselves live behind the Engine interface; this
// package only guarantees the execution contract — no turn before both
// handshakes, strictly sequential turns per runner, faults attributed to
// the side that produced them, and a match that can conclude even when
// one side has faulted.
package arena

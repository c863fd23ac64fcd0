// Package engine is the composition root of setkeep.
//
// Open builds every component against one store handle and wires them
// together explicitly: the repository gates writes on the quota monitor
// and falls back to emergency cleanup, the monitor triggers automatic
// cleanup, and the sync queue reports acknowledgements and conflicts back
// through the repository and the conflict resolver. Nothing is global; two
// engines over two databases are fully isolated.
//
// Local writes never wait on the network. Sync outcomes are observed
// through the operational queries and the event sink.
package engine

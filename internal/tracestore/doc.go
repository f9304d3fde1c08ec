// Package tracestore holds the columnar tables a profiling trace is stored in:
// binary mappings, stack frames, symbols, the callsite tree, processes and the
// sample tables that reference callsites.
//
// All row identifiers are 1-based; the zero value of every id type means
// "absent". Tables are append-only. A Storage may be read from many goroutines
// once it is fully populated, but must not be written concurrently with reads.
package tracestore

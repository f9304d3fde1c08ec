// Package profilebuilder converts callsite samples held in a tracestore into
// a serialized pprof profile (perftools.profiles.Profile).
//
// A Builder is used in two phases. While staging, AddSample resolves each
// callsite into locations and stages every location, function and mapping it
// reaches, deduplicating by content so that identical entities share one
// id. Build then finalizes: it picks the main binary, writes the staged
// records and returns the encoded profile. Build may be called repeatedly and
// always returns the same bytes; samples added after the first Build are
// dropped.
//
// A Builder is not safe for concurrent use.
package profilebuilder

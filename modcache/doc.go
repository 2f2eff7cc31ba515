// Package modcache provides the compiled WebAssembly module cache.
//
// The modcache package owns the process-wide wazero runtime and the
// content-hash keyed store of compiled robot runner modules. Compiled
// artifacts persist in an on-disk cache directory so a module is compiled
// at most once across process runs; the cache is best effort and every
// failure inside it falls back to plain compilation. The built-in
// language runners are additionally memoized in process so concurrent
// first use compiles each language at most once.
//
// Usage:
//
//	rt, err := modcache.New(ctx, logger, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//	mod, err := rt.LangModule(ctx, robotid.LangPython)
package modcache

// Package robotid resolves user-supplied robot identifiers.
//
// The robotid package parses a single identifier token into a tagged
// Identity describing how to locate and launch a robot: a robot published
// to the remote service, a local source file, a literal shell command, an
// external runner binary, or inline source text.
//
// Usage:
//
//	id, err := robotid.Parse("examples/bot.py")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	switch id.Kind {
//	case robotid.KindLocalFile:
//	    fmt.Println(id.Path, id.Lang)
//	}
package robotid

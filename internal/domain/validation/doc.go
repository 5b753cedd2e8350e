// Package validation statically classifies submitted scripts before
// admission.
//
// The validator is a gate, not a sandbox: it parses the script with the
// goja parser to fail closed on anything unparseable, applies the
// configured capability denylist, flags dangerous-but-allowed patterns,
// estimates structural complexity, and requires a single main() entry
// point. It never executes the script and runs in time bounded by the
// configured size cap.
package validation

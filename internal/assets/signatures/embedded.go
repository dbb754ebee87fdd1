// Package signaturesassets provides embedded log-signature tables for
// standalone binary behavior.
//
// Tables are embedded at compile time so log classification works in
// installed binaries without requiring the table files on disk.
package signaturesassets

import _ "embed"

// DefaultSignatures is the embedded default log-signature table set.
//
// Operators extend these tables via configuration; the embedded set
// covers the error classes every provider CLI can emit.
//
//go:embed default-signatures.yaml
var DefaultSignatures []byte

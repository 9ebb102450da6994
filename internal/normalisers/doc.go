// Package normalisers converts raw content payloads into plain text.
// Each normaliser handles specific MIME types; the Registry picks the
// highest-priority normaliser for an item's MIME type.
package normalisers

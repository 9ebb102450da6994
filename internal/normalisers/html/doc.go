// Package html provides a Normaliser implementation for HTML content.
// It extracts readable text from HTML, stripping tags, scripts and styles,
// decoding entities, and keeping block boundaries as paragraph breaks.
package html

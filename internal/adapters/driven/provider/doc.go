// Package provider holds the HTTP plumbing shared by the embedding and
// generation adapters and the REST content source: rate limiting, retries
// with exponential backoff, and classification of failures into transient
// and fatal provider errors.
package provider

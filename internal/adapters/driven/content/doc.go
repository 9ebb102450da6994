// Package content holds ContentSource adapters: a local catalog directory
// (filesystem) and the host store's paginated JSON API (rest).
package content

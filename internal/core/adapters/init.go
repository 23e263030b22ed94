// Package adapters registers the built-in source formats with the core registry.
// Import this package for its side effects to make the adapters available.
package adapters

// Each adapter file uses init() to register itself.

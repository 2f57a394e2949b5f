// ABOUTME: Main heapcheck package providing version information and package documentation
// ABOUTME: This is the root package for the collector heap verification toolkit

// Package heapcheck provides self-verification passes for a generational,
// precise garbage collector. It includes remembered-set and mod-union
// consistency checks, whole-heap pointer validation, nursery integrity
// checks, reference location, isolation-domain checks and a differential
// comparator for bridge SCC results.
package heapcheck

// Version is the semantic version of the heapcheck toolkit
const Version = "0.1.0-dev"

// Package registry holds the operation registry: the catalog of named
// business operations the compiler and executor dispatch to.
//
// Operation shapes (arguments, write-set templates, gate behavior) are
// declared in CUE catalog files and bound to Go handlers at startup. The
// registry is constructed once, is immutable afterwards, and is passed
// explicitly into the compiler and executor; there is no ambient global
// registry state.
package registry

// Package internal holds helpers shared by the tokenward packages that must
// not become part of the public API surface.
package internal

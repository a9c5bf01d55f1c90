// Package otel bridges the tokenward counter registry to OpenTelemetry.
//
// The exporter registers observable instruments that read a metrics snapshot
// on each collection cycle. Nothing is pushed; the meter's reader decides
// when to collect.
package otel

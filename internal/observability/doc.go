// Package observability provides the logging and tracing foundations
// shared by all authorization-core packages.
//
// Components accept a Logger through functional options and default to
// NopLogger(), keeping the packages quiet in tests. Tracing is optional
// and exports spans over OTLP gRPC when enabled.
package observability

// Package logx is streamhub's structured logging layer over zerolog.
//
// Logger is a value type. Loggers derived from a Service follow its
// outputs and level across config reloads; the zero Logger discards.
package logx

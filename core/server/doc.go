// Package server wraps http.Server with graceful shutdown, environment
// configuration, optional TLS from certificate files, and an errgroup
// compatible Run method for coordinated lifecycle management.
package server

// Package database opens and manages the archive database connection:
// driver selection from configuration, pool sizing, periodic health checks
// and transaction helpers with retry for transient failures.
package database

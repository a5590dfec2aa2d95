// Package migration manages the run archive schema with golang-migrate.
// SQL migrations for postgres, mysql and sqlite are embedded per dialect
// and applied through a single Migrator interface; the CLI type adds the
// formatted output used by the migrate subcommand.
package migration

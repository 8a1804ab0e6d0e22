// Package cmd defines and implements the CLI commands for the restockwatch
// executable.
package cmd

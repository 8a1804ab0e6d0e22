// Package stock defines the core types and interfaces shared by the restock
// pipeline: monitored targets, tri-state verdicts, persisted state records,
// cache validators, and the collaborator contracts the checker is built from.
package stock

// Command restockwatch watches product pages and sends a notification when
// an item comes back in stock.
//
// Usage:
//
//	restockwatch check              # fetch every target and notify directly
//	restockwatch light              # keyword pass that queues possible restocks
//	restockwatch confirm            # render queued targets and notify
//	restockwatch watch              # run on a schedule and serve the operator API
//	restockwatch targets validate   # check the target list and exit
//
// Configuration is read from --config (YAML/JSON/TOML) and RESTOCK_*
// environment variables.
package main

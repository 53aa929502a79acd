// Package ragsync keeps a vector search index in sync with its upstream
// document sources.
//
// The ingestion pipeline streams items from a source connector (object
// store, SharePoint lists, NL2SQL metadata), gates each item on a freshness
// comparison against the index, chunks and embeds the changed ones, and
// replaces their index records. A partial failure is repaired on the next
// run by the freshness gate. A companion purger removes records whose
// upstream item no longer exists.
//
// # Quick Start
//
// Install the CLI:
//
//	go install github.com/cortexa-labs/ragsync/cmd/ragsync@latest
//
// Run one ingestion pass:
//
//	ragsync run
//
// Or keep the index continuously in sync on a cron schedule:
//
//	CRON_RUN_INDEXER="*/15 * * * *" ragsync schedule
//
// # Packages
//
// The building blocks live under pkg/ and compose without the CLI:
//
//   - pkg/sources: source connectors (blob, SharePoint, NL2SQL)
//   - pkg/chunker: extension-dispatched document chunkers
//   - pkg/embedder: embedding and chat clients with a global concurrency gate
//   - pkg/search: the index gateway (REST and Qdrant backends)
//   - pkg/indexer: the ingestion engine, purger and run logging
//   - pkg/scheduler: cron scheduling for the engines
package ragsync

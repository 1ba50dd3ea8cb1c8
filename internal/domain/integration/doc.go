// Package integration contains the catalog synchronization bounded context.
// It describes how crawled vehicle listings are mirrored into a remote
// storefront catalog.
//
// Key concepts:
//   - NormalizedRecord: immutable, validated input describing one vehicle
//   - IdentityMapping: durable correspondence between an identity key and remote ids
//   - CatalogClient: port for the remote catalog (create, update, lookup by SKU)
//   - CallScheduler: port for the process-wide outbound call limiter
//   - KeyLocker: port for per-key mutual exclusion
//   - SyncOutcome / BatchResult: per-record and per-run results
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration

// Package customer contains the customer synchronization bounded context.
// It models customer records pulled from the external source, their cached
// projection in the local store and the CRM linkage of each cached record.
//
// Key concepts:
//   - ExternalRecord: raw field map as returned by the source
//   - Customer: durable cached projection keyed by the external identity
//   - Store: port for the local upsert store and its watermarks
//   - CRMGateway: port for the downstream CRM (contacts and deals)
//   - Observer: receives per-record outcome events
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package customer

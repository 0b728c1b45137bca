// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer pure and free
// from ORM concerns.
//
// Key Principles:
// 1. Domain entities should be free of GORM tags and infrastructure concerns
// 2. Persistence models contain all GORM annotations and table mappings
// 3. Mappers (ToDomain / FromDomain) convert between domain entities and models
// 4. Sync state columns are never written by the raw-field upsert path
//
// Structure:
// - customer.go: cached customer projection (table customers)
// - watermark.go: label to value markers (table sync_watermarks)
package models

package hoist

import "github.com/hoistq/hoist/id"

// ID is the primary identifier type for all Hoist entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix

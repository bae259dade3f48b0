package tether

import "github.com/xraph/tether/id"

// ID is the primary identifier type for all tether entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix

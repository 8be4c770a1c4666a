package lookup

import "github.com/msgpo/lumber-mill/internal/event"

// Table is an enrichment table keyed by a single value. Implementations
// must be safe for concurrent lookups.
type Table interface {
	// Lookup resolves value to an object of attributes, keeping only the
	// requested fields (all of Suffixes when fields is empty). The second
	// return is false on a miss. A miss is normal, not an error.
	Lookup(value string, fields []string) (event.Value, bool)

	// Suffixes lists the attribute names the table can produce.
	Suffixes() []string
}

// Package ledger defines the performative based contract read/encode
// protocol used by the betting stages. Concrete backends live in
// subpackages; contract adapters register their callables against a backend
// and stages only ever speak the Request/Response protocol.
package ledger

// Package accounting contains the domain model for synchronizing extracted
// invoices into an external accounting system: per-tenant OAuth connections,
// vendor identity mapping, the per-invoice sync state machine, and the port
// interfaces implemented by the infrastructure layer.
package accounting

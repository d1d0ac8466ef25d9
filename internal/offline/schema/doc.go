// Package schema defines the data model shared by the offline sync components.
//
// # Records
//
// A Record is one garage entity (job card, customer, service or bike). Its JSON
// form is a flat object carrying the identity under "id" next to the fields:
//
//	{
//	  "id": "cust-7",
//	  "name": "Ada Lovelace",
//	  "phone": "+44 20 7946 0000"
//	}
//
// # Temporary identities
//
// Records created while the remote system has not confirmed them carry a
// temporary identity minted by NewTempID:
//
//	job_1718000000000_a1b2c3
//
// The kind prefix, millisecond timestamp and random suffix keep concurrent
// creates from colliding. Server identities never match this form, so
// IsTempID can tell them apart.
//
// # Mutations
//
// A Mutation records one local create, update or delete that still has to be
// applied remotely. Mutations are immutable once enqueued; identity swaps are
// resolved through the store's alias table instead of rewriting the queue.
package schema

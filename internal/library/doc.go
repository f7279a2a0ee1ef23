// Package library owns the local mirror of a photo-sharing server.
//
// Ownership boundary:
// - database -> album/photo object graph
// - identity-preserving updates (entities are mutated, never replaced)
// - change events
//
// A Database guards its albums and photos with one lock; Album methods take
// the lock of the database they are attached to.
package library

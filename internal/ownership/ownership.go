// Package ownership holds the single authorization predicate for owned
// resources. Every entity that records an owning account at creation time
// satisfies Resource, and every mutation path runs through Authorize instead
// of re-implementing the check per entity type.
package ownership

// Resource is anything with a recorded owning account.
type Resource interface {
	OwnerID() int64
}

// Authorize reports whether the acting account may mutate the resource.
// Authorization is strict ownership equality: there is no elevated role that
// can act on another account's resource. An anonymous actor (id 0) is never
// authorized, even against a resource that somehow reports owner 0.
func Authorize(actorID int64, resource Resource) bool {
	if actorID == 0 {
		return false
	}
	return resource.OwnerID() == actorID
}

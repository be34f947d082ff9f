package core

import "context"

// ChangeEventType names the variant of a ChangeEvent. It is used for
// logging, metrics and the wire encoding; reconciliation switches on
// the concrete type instead.
type ChangeEventType string

const (
	ChangeEventAdded    ChangeEventType = "ADDED"
	ChangeEventModified ChangeEventType = "MODIFIED"
	ChangeEventDeleted  ChangeEventType = "DELETED"
	ChangeEventBookmark ChangeEventType = "BOOKMARK"
	ChangeEventError    ChangeEventType = "ERROR"
)

// ChangeEvent is one item of an upstream change feed. The set of
// implementations is closed: Added, Modified, Deleted, Bookmark and
// ErrorEvent. This is a domain-level type that decouples the core
// layer from k8s.io/apimachinery/pkg/watch.Event.
type ChangeEvent interface {
	Type() ChangeEventType
	changeEvent()
}

// Added reports a newly observed object.
type Added struct {
	Object Snapshot
}

// Modified reports a new state of an existing object.
type Modified struct {
	Object Snapshot
}

// Deleted reports the removal of an object. Version is the resource
// version of the deletion, when the upstream supplies one.
type Deleted struct {
	Name      string
	Namespace string
	Version   string
}

// Bookmark is a progress marker: nothing changed, but the feed has
// advanced to Version. Namespace names the per-namespace feed that
// sent it when a collection is watched one namespace at a time.
type Bookmark struct {
	Version   string
	Namespace string
}

// ErrorEvent carries a stream-level or object-level error. It never
// mutates cached items.
type ErrorEvent struct {
	Err error
}

func (Added) Type() ChangeEventType      { return ChangeEventAdded }
func (Modified) Type() ChangeEventType   { return ChangeEventModified }
func (Deleted) Type() ChangeEventType    { return ChangeEventDeleted }
func (Bookmark) Type() ChangeEventType   { return ChangeEventBookmark }
func (ErrorEvent) Type() ChangeEventType { return ChangeEventError }

func (Added) changeEvent()      {}
func (Modified) changeEvent()   {}
func (Deleted) changeEvent()    {}
func (Bookmark) changeEvent()   {}
func (ErrorEvent) changeEvent() {}

// Key returns the cache key of the deleted object.
func (d Deleted) Key() string {
	return objectKey(d.Namespace, d.Name)
}

// eventVersion returns the resource version an event advances the
// collection to, or "" when it carries none.
func eventVersion(ev ChangeEvent) string {
	switch e := ev.(type) {
	case Added:
		return e.Object.Version
	case Modified:
		return e.Object.Version
	case Deleted:
		return e.Version
	case Bookmark:
		return e.Version
	case ErrorEvent:
		return ""
	}
	return ""
}

// eventNamespace returns the namespace whose feed delivered ev.
func eventNamespace(ev ChangeEvent) string {
	switch e := ev.(type) {
	case Added:
		return e.Object.Namespace
	case Modified:
		return e.Object.Namespace
	case Deleted:
		return e.Namespace
	case Bookmark:
		return e.Namespace
	}
	return ""
}

// EventHandler receives the items of one upstream subscription.
// Implementations must not block; the registry and the passthrough
// watch route both callbacks straight into an EventQueue.
type EventHandler interface {
	OnEvent(ChangeEvent)
	OnError(error)
}

// Subscription is a live upstream change feed. Unsubscribe stops the
// feed and must be safe to call more than once.
type Subscription interface {
	Unsubscribe()
}

// SubscribeOptions tunes how a subscription is opened.
type SubscribeOptions struct {
	// SendInitialEvents asks the upstream to replay the current state
	// as synthetic Added events before the change feed (streaming
	// list). Only meaningful when no resume token is given.
	SendInitialEvents bool
}

// Subscriber opens upstream subscriptions for a collection, starting
// after resumeToken. Events are delivered to h from a goroutine owned
// by the subscription until Unsubscribe is called or the feed ends,
// in which case h.OnError receives ErrSubscriptionClosed.
type Subscriber interface {
	Subscribe(ctx context.Context, key CollectionKey, resumeToken string, opts SubscribeOptions, h EventHandler) (Subscription, error)
}

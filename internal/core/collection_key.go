package core

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/validation"
)

// CollectionKey identifies one watched collection: a resource type on
// a cluster, optionally narrowed to a set of namespaces and an
// equality label selector.
type CollectionKey struct {
	Cluster string
	// Namespaces lists the watched namespaces. Empty (or containing
	// metav1.NamespaceAll) means every namespace.
	Namespaces []string
	Resource   schema.GroupVersionResource
	Labels     map[string]string
}

// canonicalKey is the normalized, serializable form of a CollectionKey.
type canonicalKey struct {
	Cluster    string            `json:"cluster"`
	Group      string            `json:"group"`
	Version    string            `json:"version"`
	Resource   string            `json:"resource"`
	Namespaces []string          `json:"namespaces"`
	Labels     map[string]string `json:"labels"`
}

// Canonical returns the stable identity of the collection. Two keys
// that select the same objects produce the same string regardless of
// namespace order, duplicate namespaces or label map iteration order;
// distinct collections never collide because the tuple is encoded as
// RFC 8785 canonical JSON.
func (k CollectionKey) Canonical() string {
	ck := canonicalKey{
		Cluster:    k.Cluster,
		Group:      k.Resource.Group,
		Version:    k.Resource.Version,
		Resource:   k.Resource.Resource,
		Namespaces: k.NormalizedNamespaces(),
		Labels:     map[string]string{},
	}
	if ck.Namespaces == nil {
		ck.Namespaces = []string{}
	}
	maps.Copy(ck.Labels, k.Labels)

	// Marshalling a struct of strings cannot fail.
	data, _ := json.Marshal(ck)

	canonical, err := jsoncanonicalizer.Transform(data)
	if err != nil {
		// encoding/json already sorts map keys, so its output is
		// deterministic on its own.
		return string(data)
	}
	return string(canonical)
}

// NormalizedNamespaces returns the sorted, de-duplicated namespace
// list, or nil when the key selects every namespace.
func (k CollectionKey) NormalizedNamespaces() []string {
	if len(k.Namespaces) == 0 || slices.Contains(k.Namespaces, metav1.NamespaceAll) {
		return nil
	}
	ns := slices.Clone(k.Namespaces)
	slices.Sort(ns)
	return slices.Compact(ns)
}

// LabelSelector renders Labels as a Kubernetes equality selector
// (keys sorted), or "" when no labels are set.
func (k CollectionKey) LabelSelector() string {
	if len(k.Labels) == 0 {
		return ""
	}
	return labels.SelectorFromSet(labels.Set(k.Labels)).String()
}

// Validate checks the key for values the upstream API would reject.
func (k CollectionKey) Validate() error {
	if k.Resource.Resource == "" {
		return &ErrInvalidInput{Field: "resource", Message: "must not be empty"}
	}
	if k.Resource.Version == "" {
		return &ErrInvalidInput{Field: "version", Message: "must not be empty"}
	}
	for _, ns := range k.NormalizedNamespaces() {
		if errs := validation.IsDNS1123Label(ns); len(errs) > 0 {
			return &ErrInvalidInput{Field: "namespace", Message: fmt.Sprintf("%q: %s", ns, strings.Join(errs, "; "))}
		}
	}
	if _, err := labels.ValidatedSelectorFromSet(labels.Set(k.Labels)); err != nil {
		return &ErrInvalidInput{Field: "labels", Message: err.Error()}
	}
	return nil
}

// String is a human-readable form for logs. It is not an identity;
// use Canonical for that.
func (k CollectionKey) String() string {
	var b strings.Builder
	b.WriteString(k.Cluster)
	b.WriteString("/")
	b.WriteString(k.Resource.String())
	if ns := k.NormalizedNamespaces(); len(ns) > 0 {
		b.WriteString(" ns=")
		b.WriteString(strings.Join(ns, ","))
	}
	if sel := k.LabelSelector(); sel != "" {
		b.WriteString(" labels=")
		b.WriteString(sel)
	}
	return b.String()
}

package backing

import "strings"

// DefaultNamespace prefixes keys when no namespace is configured.
const DefaultNamespace = "tiermem"

// Keyspace builds namespaced Redis keys with the <ns>:<part>:<part> pattern.
type Keyspace struct {
	ns string
}

// NewKeyspace returns a Keyspace for ns, or DefaultNamespace when ns is blank.
func NewKeyspace(ns string) Keyspace {
	ns = strings.Trim(strings.TrimSpace(ns), ":")
	if ns == "" {
		ns = DefaultNamespace
	}
	return Keyspace{ns: ns}
}

// Namespace returns the key prefix.
func (k Keyspace) Namespace() string {
	if k.ns == "" {
		return DefaultNamespace
	}
	return k.ns
}

// Key joins parts under the namespace.
func (k Keyspace) Key(parts ...string) string {
	return k.Namespace() + ":" + strings.Join(parts, ":")
}

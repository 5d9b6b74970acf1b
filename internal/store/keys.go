package store

// DefaultPrefix namespaces every key the wallet writes
const DefaultPrefix = "wallet"

type keyspace struct {
	prefix string
}

func newKeyspace(prefix string) keyspace {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return keyspace{prefix: prefix}
}

func (k keyspace) record(id string) string { return k.prefix + ":tx:" + id }
func (k keyspace) index() string           { return k.prefix + ":tx:index" }
func (k keyspace) activeAccount() string   { return k.prefix + ":active_account" }
func (k keyspace) accounts() string        { return k.prefix + ":accounts" }
func (k keyspace) preferences() string     { return k.prefix + ":notification_prefs" }

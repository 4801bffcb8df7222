// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

// idState tracks how much this process knows about a name's numeric id.
type idState int

const (
	idUnset idState = iota
	idSeenOnce
	idValue
)

func (s idState) String() string {
	switch s {
	case idUnset:
		return "unset"
	case idSeenOnce:
		return "seen-once"
	case idValue:
		return "value"
	}
	return "unknown"
}

// nameRecord is the registry entry for one name. It lives exactly as
// long as at least one token refers to it.
type nameRecord struct {
	name     string
	refcount int

	idState idState
	id      uint64
	// posts counts posts since the id state was last reset, driving the
	// escalation to a fetched id.
	posts int

	// registrations counts inserts over the record's life for the leak
	// warning.
	registrations int

	// members are the live tokens on this name, for in-process fan-out.
	members map[Token]struct{}

	// selfState is the state value of a self name.
	selfState uint64
}

// retainName returns the record for name, creating it, and counts one
// more live token. The caller holds c.mu.
func (c *Client) retainName(name string, token Token) *nameRecord {
	record, ok := c.names[name]
	if !ok {
		record = &nameRecord{name: name, members: make(map[Token]struct{})}
		c.names[name] = record
	}
	record.refcount++
	record.registrations++
	record.members[token] = struct{}{}

	if interval := c.config.Client.LeakWarningInterval; interval > 0 && record.registrations%interval == 0 {
		c.logger.Warn("name registered many times; registrations may be leaking",
			"name", name,
			"registrations", record.registrations,
			"live", record.refcount,
		)
	}
	return record
}

// releaseName drops one token from record and removes the record at
// zero. The caller holds c.mu.
func (c *Client) releaseName(record *nameRecord, token Token) {
	delete(record.members, token)
	record.refcount--
	if record.refcount <= 0 {
		delete(c.names, record.name)
	}
}

// resetIDs forgets a record's numeric id after a broker restart. The
// caller holds c.mu.
func (r *nameRecord) resetIDs() {
	r.idState = idUnset
	r.id = 0
	r.posts = 0
}

// setID caches a fetched numeric id. The caller holds c.mu.
func (r *nameRecord) setID(id uint64) {
	r.idState = idValue
	r.id = id
}

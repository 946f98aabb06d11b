package message

import "strings"

// Kind discriminates the four address roles a MAIL envelope can name as
// sender or recipient.
type Kind string

const (
	// KindAgent addresses a local or remote agent.
	KindAgent Kind = "agent"
	// KindUser addresses the human (or API caller) on whose behalf a task runs.
	KindUser Kind = "user"
	// KindSystem addresses the runtime itself, used for system-originated
	// envelopes such as ::tool_call_error:: responses.
	KindSystem Kind = "system"
	// KindAdmin addresses an operator with elevated privileges (resume,
	// cancel, breakpoint resolution).
	KindAdmin Kind = "admin"
)

// All is the reserved agent name that denotes fanout to every local agent.
// No real agent may register this name (validated at swarm construction).
const All = "all"

// Address identifies the sender or a recipient of an envelope. Name may be a
// bare local name ("weather") or a remote-qualified name ("weather@north")
// for federation. Names are unique within a Kind within a swarm.
type Address struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name"`
}

// Agent constructs a local or remote agent address.
func Agent(name string) Address { return Address{Kind: KindAgent, Name: name} }

// User constructs a user address.
func User(name string) Address { return Address{Kind: KindUser, Name: name} }

// System constructs a system address.
func System(name string) Address { return Address{Kind: KindSystem, Name: name} }

// Admin constructs an admin address.
func Admin(name string) Address { return Address{Kind: KindAdmin, Name: name} }

// IsAll reports whether the address is the reserved local-fanout name.
func (a Address) IsAll() bool {
	return a.Kind == KindAgent && a.Name == All
}

// Local splits a remote-qualified name ("weather@north") into its local name
// and swarm suffix. ok is false when the name carries no "@" suffix, in
// which case local equals a.Name and swarm is empty.
func (a Address) Local() (local, swarm string, ok bool) {
	i := strings.IndexByte(a.Name, '@')
	if i < 0 {
		return a.Name, "", false
	}
	return a.Name[:i], a.Name[i+1:], true
}

// IsRemote reports whether the address names a peer swarm other than
// localSwarm. A bare name, or a name qualified with localSwarm itself, is
// local.
func (a Address) IsRemote(localSwarm string) bool {
	_, swarm, ok := a.Local()
	if !ok {
		return false
	}
	return swarm != localSwarm
}

// String renders the address as "kind:name".
func (a Address) String() string {
	return string(a.Kind) + ":" + a.Name
}

// Equal reports whether two addresses are identical.
func (a Address) Equal(b Address) bool {
	return a.Kind == b.Kind && a.Name == b.Name
}

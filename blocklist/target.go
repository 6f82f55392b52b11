package blocklist

// Target is an identifier named by an administrator, before it is reduced to
// an ID and kind. It is either a ResolvedUser or a RawID.
type Target interface {
	target()
}

// ResolvedUser is a target known to be a user on the platform.
type ResolvedUser struct {
	ID uint64
}

// RawID is a bare numeric identifier that did not resolve to a user.
// Raw identifiers are treated as guilds.
type RawID struct {
	ID uint64
}

func (ResolvedUser) target() {}
func (RawID) target()        {}

// Resolve reduces a target to its ID and kind.
func Resolve(t Target) (uint64, Kind) {
	switch t := t.(type) {
	case ResolvedUser:
		return t.ID, User
	case RawID:
		return t.ID, Guild
	default:
		panic("blocklist: unknown target type")
	}
}

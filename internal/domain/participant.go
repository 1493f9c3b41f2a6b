// Package domain contains entity ids and states without logic
package domain

// ParticipantID is the uuid string assigned when a transport is accepted.
type ParticipantID string

type Role int32

const (
	RoleMember Role = iota
	RoleAdmin
)

func (r Role) String() string {
	if r == RoleAdmin {
		return "admin"
	}
	return "member"
}

// ConnState is the per-connection lifecycle. Closed is terminal.
type ConnState int32

const (
	ConnConnected ConnState = iota
	ConnInConference
	ConnLeaving
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnConnected:
		return "connected"
	case ConnInConference:
		return "in_conference"
	case ConnLeaving:
		return "leaving"
	case ConnClosed:
		return "closed"
	}
	return "unknown"
}

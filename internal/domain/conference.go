package domain

import (
	"errors"
	"strconv"
)

var ErrInvalidConferenceID = errors.New("invalid conference id")

type ConferenceID uint64

func (id ConferenceID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseConferenceID accepts the decimal ASCII form used on the wire. Zero is never assigned.
func ParseConferenceID(s string) (ConferenceID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v == 0 {
		return 0, ErrInvalidConferenceID
	}
	return ConferenceID(v), nil
}

type ConferenceState int32

const (
	ConferenceActive ConferenceState = iota
	ConferenceClosing
	ConferenceClosed
)

func (s ConferenceState) String() string {
	switch s {
	case ConferenceActive:
		return "active"
	case ConferenceClosing:
		return "closing"
	case ConferenceClosed:
		return "closed"
	}
	return "unknown"
}

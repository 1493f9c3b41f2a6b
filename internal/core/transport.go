package core

type TransportKind string

const (
	TransportStream    TransportKind = "stream"
	TransportWebSocket TransportKind = "websocket"
	TransportDatagram  TransportKind = "datagram"
)

//go:generate mockgen -source=transport.go -destination=mocks/mock_transport.go -package=mocks

// Transport is the outbound half of a client endpoint.
// Owned by the adapter; the adapter must release its resources on Close().
type Transport interface {
	// Send enqueues f without blocking. A full queue yields ErrBackpressure.
	Send(f Frame) error
	Close()
	RemoteAddr() string
	Kind() TransportKind
}

// Conn is a Transport with a blocking receive side. Receive is only called
// from the connection's own worker.
type Conn interface {
	Transport
	Receive() (Frame, error)
}

// MediaSink delivers media for a participant that bound a datagram stream.
type MediaSink interface {
	SendMedia(f Frame) error
	Addr() string
}

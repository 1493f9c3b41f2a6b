package codec

import (
	"errors"
	"fmt"

	"github.com/dkeye/confrelay/internal/core"
)

type CommandCode byte

const (
	CmdCreate CommandCode = 1
	CmdJoin   CommandCode = 2
	CmdQuit   CommandCode = 3
	CmdCancel CommandCode = 4
	CmdSwitch CommandCode = 5
	CmdBind   CommandCode = 6
)

func (c CommandCode) String() string {
	switch c {
	case CmdCreate:
		return "create"
	case CmdJoin:
		return "join"
	case CmdQuit:
		return "quit"
	case CmdCancel:
		return "cancel"
	case CmdSwitch:
		return "switch"
	case CmdBind:
		return "bind"
	}
	return fmt.Sprintf("cmd(%d)", byte(c))
}

type Status byte

const (
	StatusOK                  Status = 0
	StatusNotFound            Status = 1
	StatusAlreadyInConference Status = 2
	StatusForbidden           Status = 3
	StatusNotInConference     Status = 4
	StatusBadRequest          Status = 5
	StatusRateLimited         Status = 6
	StatusConflict            Status = 7
)

// Command is a decoded control body: 1-byte code + ASCII operand.
type Command struct {
	Code    CommandCode
	Operand string
}

func ParseCommand(body []byte) (Command, error) {
	if len(body) == 0 {
		return Command{}, fmt.Errorf("%w: empty control body", core.ErrBadCommand)
	}
	code := CommandCode(body[0])
	if code < CmdCreate || code > CmdBind {
		return Command{}, fmt.Errorf("%w: unknown command %d", core.ErrBadCommand, body[0])
	}
	return Command{Code: code, Operand: string(body[1:])}, nil
}

func (c Command) Encode() []byte {
	buf := make([]byte, 1+len(c.Operand))
	buf[0] = byte(c.Code)
	copy(buf[1:], c.Operand)
	return buf
}

// Frame wraps the command as a control frame.
func (c Command) Frame() core.Frame {
	return core.Frame{Type: core.DataControl, Payload: c.Encode()}
}

// Response answers a Command, or notifies a client of a server-side event.
type Response struct {
	Code    CommandCode
	Status  Status
	Operand string
}

func (r Response) Encode() []byte {
	buf := make([]byte, 2+len(r.Operand))
	buf[0] = byte(r.Code)
	buf[1] = byte(r.Status)
	copy(buf[2:], r.Operand)
	return buf
}

func (r Response) Frame() core.Frame {
	return core.Frame{Type: core.DataControl, Payload: r.Encode()}
}

func ParseResponse(body []byte) (Response, error) {
	if len(body) < 2 {
		return Response{}, fmt.Errorf("%w: short control response", core.ErrMalformedPacket)
	}
	return Response{Code: CommandCode(body[0]), Status: Status(body[1]), Operand: string(body[2:])}, nil
}

// StatusFor maps a control-handling error to its response status.
func StatusFor(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, core.ErrNotFound):
		return StatusNotFound
	case errors.Is(err, core.ErrAlreadyInConference):
		return StatusAlreadyInConference
	case errors.Is(err, core.ErrForbidden):
		return StatusForbidden
	case errors.Is(err, core.ErrNotInConference):
		return StatusNotInConference
	case errors.Is(err, core.ErrSSRCInUse):
		return StatusConflict
	}
	return StatusBadRequest
}

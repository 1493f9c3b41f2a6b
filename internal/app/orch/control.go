package orch

import (
	"fmt"
	"strconv"

	"github.com/dkeye/confrelay/internal/app"
	"github.com/dkeye/confrelay/internal/codec"
	"github.com/dkeye/confrelay/internal/core"
	"github.com/dkeye/confrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// HandleControl executes one control command for p and returns the response
// to send back. Rejected commands leave all state unchanged.
func (o *Orchestrator) HandleControl(p *core.Participant, body []byte) codec.Response {
	cmd, err := codec.ParseCommand(body)
	if err != nil {
		resp := codec.Response{Status: codec.StatusBadRequest}
		if len(body) > 0 {
			resp.Code = codec.CommandCode(body[0])
		}
		log.Debug().Err(err).Str("module", "orch").Str("pid", string(p.ID)).Msg("bad control frame")
		return resp
	}

	operand, err := o.execute(p, cmd)
	resp := codec.Response{Code: cmd.Code, Status: codec.StatusFor(err), Operand: operand}
	ev := log.Debug()
	if err != nil && !app.IsControlError(err) {
		ev = log.Warn()
	}
	ev.Err(err).Str("module", "orch").Str("pid", string(p.ID)).Str("cmd", cmd.Code.String()).Str("operand", cmd.Operand).Msg("control")
	return resp
}

func (o *Orchestrator) execute(p *core.Participant, cmd codec.Command) (string, error) {
	switch cmd.Code {
	case codec.CmdCreate:
		id, err := o.Registry.CreateConference(p)
		if err != nil {
			return "", err
		}
		return id.String(), nil

	case codec.CmdJoin:
		id, err := domain.ParseConferenceID(cmd.Operand)
		if err != nil {
			return "", fmt.Errorf("%w: %w", core.ErrBadCommand, err)
		}
		if err := o.Registry.JoinConference(id, p); err != nil {
			return "", err
		}
		return id.String(), nil

	case codec.CmdQuit:
		c := p.Conference()
		if c == nil {
			return "", core.ErrNotInConference
		}
		if err := o.Registry.QuitConference(p); err != nil {
			return "", err
		}
		return c.ID().String(), nil

	case codec.CmdCancel:
		return o.cancel(p, cmd.Operand)

	case codec.CmdSwitch:
		t, ok := switchTarget(cmd.Operand)
		if !ok {
			return "", fmt.Errorf("%w: switch %q", core.ErrBadCommand, cmd.Operand)
		}
		on := p.ToggleSharing(t)
		return fmt.Sprintf("%s=%d", t, boolDigit(on)), nil

	case codec.CmdBind:
		ssrc, err := strconv.ParseUint(cmd.Operand, 10, 32)
		if err != nil {
			return "", fmt.Errorf("%w: ssrc %q", core.ErrBadCommand, cmd.Operand)
		}
		if err := o.Media.Bind(uint32(ssrc), p); err != nil {
			return "", err
		}
		return cmd.Operand, nil
	}
	return "", core.ErrBadCommand
}

func (o *Orchestrator) cancel(p *core.Participant, operand string) (string, error) {
	var id domain.ConferenceID
	if operand == "" {
		c := p.Conference()
		if c == nil {
			return "", core.ErrNotInConference
		}
		id = c.ID()
	} else {
		parsed, err := domain.ParseConferenceID(operand)
		if err != nil {
			return "", fmt.Errorf("%w: %w", core.ErrBadCommand, err)
		}
		id = parsed
	}
	members, err := o.Registry.CancelConference(id, p)
	if err != nil {
		return "", err
	}
	o.closeCancelled(id, members)
	return id.String(), nil
}

// closeCancelled notifies each member of a cancelled conference and closes it.
// The requesting admin is among them: its notice doubles as the OK response,
// and the response the worker sends afterwards hits a closed transport.
func (o *Orchestrator) closeCancelled(id domain.ConferenceID, members []*core.Participant) {
	notice := codec.Response{Code: codec.CmdCancel, Status: codec.StatusOK, Operand: id.String()}.Frame()
	for _, m := range members {
		if err := m.Transport().Send(notice); err != nil {
			log.Debug().Err(err).Str("module", "orch").Str("pid", string(m.ID)).Msg("cancel notice not queued")
		}
		o.Disconnect(m, fmt.Errorf("conference %s cancelled", id))
	}
}

func switchTarget(s string) (core.DataType, bool) {
	switch s {
	case "video":
		return core.DataVideo, true
	case "audio":
		return core.DataAudio, true
	}
	return 0, false
}

func boolDigit(b bool) int {
	if b {
		return 1
	}
	return 0
}

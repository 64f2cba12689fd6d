package client

import (
	"fmt"

	"uds-rpc/codec"
	"uds-rpc/service"
)

// ClockTime is one reading of the server's clock.
type ClockTime struct {
	Formatted string // rendered with service.TimestampLayout
	Unix      int64
}

// Clock invokes the clock service through a Caller.
type Clock struct {
	caller Caller
}

func NewClock(caller Caller) *Clock {
	return &Clock{caller: caller}
}

// Now returns the server's current wall-clock time.
func (c *Clock) Now() (ClockTime, error) {
	resp, err := c.invoke(service.OpNow)
	if err != nil {
		return ClockTime{}, err
	}

	status, err := resp.GetByte()
	if err != nil {
		return ClockTime{}, fmt.Errorf("client: short clock response: %w", err)
	}
	formatted, err := resp.GetString()
	if err != nil {
		return ClockTime{}, fmt.Errorf("client: short clock response: %w", err)
	}
	unix, err := resp.GetInt64()
	if err != nil {
		return ClockTime{}, fmt.Errorf("client: short clock response: %w", err)
	}
	errMsg, err := resp.GetString()
	if err != nil {
		return ClockTime{}, fmt.Errorf("client: short clock response: %w", err)
	}

	if service.ClockStatus(status) != service.ClockOK {
		return ClockTime{}, fmt.Errorf("client: clock: %s", errMsg)
	}
	return ClockTime{Formatted: formatted, Unix: unix}, nil
}

// Zones returns the server's current time rendered in each zone it reports.
func (c *Clock) Zones() (map[string]string, error) {
	resp, err := c.invoke(service.OpZones)
	if err != nil {
		return nil, err
	}

	status, err := resp.GetByte()
	if err != nil {
		return nil, fmt.Errorf("client: short clock response: %w", err)
	}
	zones, err := resp.GetMap()
	if err != nil {
		return nil, fmt.Errorf("client: short clock response: %w", err)
	}
	errMsg, err := resp.GetString()
	if err != nil {
		return nil, fmt.Errorf("client: short clock response: %w", err)
	}

	if service.ClockStatus(status) != service.ClockOK {
		return nil, fmt.Errorf("client: clock: %s", errMsg)
	}
	return zones, nil
}

func (c *Clock) invoke(op byte) (*codec.Buffer, error) {
	frame, err := c.caller.Call(service.ClockRequestID, []byte{op})
	if err != nil {
		return nil, err
	}
	return responsePayload(frame, service.ClockResponseID)
}

package service

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"uds-rpc/codec"
	"uds-rpc/protocol"
)

// Clock routine ids.
const (
	ClockRequestID  uint32 = 0x2000
	ClockResponseID uint32 = 0x2001
)

// Clock operations.
const (
	OpNow   byte = 0x01
	OpZones byte = 0x02
)

// ClockStatus is the first payload byte of every clock response.
type ClockStatus byte

const (
	ClockOK               ClockStatus = 0
	ClockInvalidOperation ClockStatus = 1
	ClockInvalidInput     ClockStatus = 2
)

// TimestampLayout is the wall-clock format carried in Now responses.
const TimestampLayout = "2006-01-02 15:04:05.000"

// Clock serves wall-clock queries.
//
// Request payload: op byte.
// Now response payload: status byte, formatted local time string, Unix
// seconds as int64, error string.
// Zones response payload: status byte, map of zone name to RFC3339 time,
// error string.
type Clock struct {
	log *zap.Logger
}

func NewClock(log *zap.Logger) *Clock {
	if log == nil {
		log = zap.NewNop()
	}
	return &Clock{log: log}
}

func (s *Clock) RequestID() uint32  { return ClockRequestID }
func (s *Clock) ResponseID() uint32 { return ClockResponseID }
func (s *Clock) Name() string       { return "clock" }

func (s *Clock) Execute(payload []byte) ([]byte, error) {
	op, err := parseClockRequest(payload)
	if err != nil {
		s.log.Debug("clock request rejected", zap.Error(err))
		return s.respondNow(ClockInvalidInput, "", 0, "invalid request payload")
	}

	switch op {
	case OpNow:
		now := time.Now()
		s.log.Debug("clock request served", zap.Uint8("op", op))
		return s.respondNow(ClockOK, now.Format(TimestampLayout), now.Unix(), "")
	case OpZones:
		s.log.Debug("clock request served", zap.Uint8("op", op))
		return s.respondZones(ClockOK, currentZones(), "")
	default:
		return s.respondNow(ClockInvalidOperation, "", 0, fmt.Sprintf("unknown operation %#x", op))
	}
}

func parseClockRequest(payload []byte) (byte, error) {
	req, err := codec.NewBuffer(payload)
	if err != nil {
		return 0, err
	}
	return req.GetByte()
}

func currentZones() map[string]string {
	now := time.Now()
	return map[string]string{
		"Local": now.Format(time.RFC3339),
		"UTC":   now.UTC().Format(time.RFC3339),
	}
}

func (s *Clock) respondNow(status ClockStatus, formatted string, unix int64, errMsg string) ([]byte, error) {
	b, err := protocol.NewBuilder(make([]byte, protocol.MaxFrameSize), ClockResponseID)
	if err != nil {
		return nil, err
	}
	pb := b.Buffer()
	if err := pb.PutByte(byte(status)); err != nil {
		return nil, err
	}
	if err := pb.PutString(formatted); err != nil {
		return nil, err
	}
	if err := pb.PutInt64(unix); err != nil {
		return nil, err
	}
	if err := pb.PutString(errMsg); err != nil {
		return nil, err
	}
	return b.Finish()
}

func (s *Clock) respondZones(status ClockStatus, zones map[string]string, errMsg string) ([]byte, error) {
	b, err := protocol.NewBuilder(make([]byte, protocol.MaxFrameSize), ClockResponseID)
	if err != nil {
		return nil, err
	}
	pb := b.Buffer()
	if err := pb.PutByte(byte(status)); err != nil {
		return nil, err
	}
	if err := pb.PutMap(zones); err != nil {
		return nil, err
	}
	if err := pb.PutString(errMsg); err != nil {
		return nil, err
	}
	return b.Finish()
}

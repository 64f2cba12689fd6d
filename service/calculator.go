// Package service implements the built-in RPC services. Each handler parses
// its request payload and answers with a complete response frame built under
// its response routine id; a malformed payload yields a well-formed response
// carrying a failure status, never a dispatch error.
package service

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"uds-rpc/codec"
	"uds-rpc/protocol"
)

// Calculator routine ids.
const (
	CalculatorRequestID  uint32 = 0x1000
	CalculatorResponseID uint32 = 0x1001
)

// Calculator operations.
const (
	OpAdd      byte = 0x01
	OpSubtract byte = 0x02
	OpMultiply byte = 0x03
	OpDivide   byte = 0x04
)

// CalcStatus is the first payload byte of every calculator response.
type CalcStatus byte

const (
	CalcOK               CalcStatus = 0
	CalcDivisionByZero   CalcStatus = 1
	CalcInvalidOperation CalcStatus = 2
	CalcInvalidInput     CalcStatus = 3
)

// Divisors smaller than this in magnitude are treated as zero.
const divideEpsilon = 1e-10

// Calculator serves the four arithmetic operations.
//
// Request payload: op byte, two float64 operands.
// Response payload: status byte, float64 result, error string.
type Calculator struct {
	log *zap.Logger
}

func NewCalculator(log *zap.Logger) *Calculator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Calculator{log: log}
}

func (s *Calculator) RequestID() uint32  { return CalculatorRequestID }
func (s *Calculator) ResponseID() uint32 { return CalculatorResponseID }
func (s *Calculator) Name() string       { return "calculator" }

func (s *Calculator) Execute(payload []byte) ([]byte, error) {
	op, a, b, err := parseCalcRequest(payload)
	if err != nil {
		s.log.Debug("calculator request rejected", zap.Error(err))
		return s.respond(CalcInvalidInput, 0, "invalid request payload")
	}

	var (
		status CalcStatus
		result float64
		errMsg string
	)
	switch op {
	case OpAdd:
		result = a + b
	case OpSubtract:
		result = a - b
	case OpMultiply:
		result = a * b
	case OpDivide:
		if math.Abs(b) < divideEpsilon {
			status, errMsg = CalcDivisionByZero, "division by zero"
		} else {
			result = a / b
		}
	default:
		status, errMsg = CalcInvalidOperation, fmt.Sprintf("unknown operation %#x", op)
	}

	s.log.Debug("calculator request served",
		zap.Uint8("op", op),
		zap.Float64("a", a),
		zap.Float64("b", b),
		zap.Uint8("status", uint8(status)))
	return s.respond(status, result, errMsg)
}

func parseCalcRequest(payload []byte) (op byte, a, b float64, err error) {
	req, err := codec.NewBuffer(payload)
	if err != nil {
		return 0, 0, 0, err
	}
	if op, err = req.GetByte(); err != nil {
		return 0, 0, 0, err
	}
	if a, err = req.GetFloat64(); err != nil {
		return 0, 0, 0, err
	}
	if b, err = req.GetFloat64(); err != nil {
		return 0, 0, 0, err
	}
	return op, a, b, nil
}

func (s *Calculator) respond(status CalcStatus, result float64, errMsg string) ([]byte, error) {
	b, err := protocol.NewBuilder(make([]byte, protocol.MaxFrameSize), CalculatorResponseID)
	if err != nil {
		return nil, err
	}
	pb := b.Buffer()
	if err := pb.PutByte(byte(status)); err != nil {
		return nil, err
	}
	if err := pb.PutFloat64(result); err != nil {
		return nil, err
	}
	if err := pb.PutString(errMsg); err != nil {
		return nil, err
	}
	return b.Finish()
}

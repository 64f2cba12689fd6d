package client

import (
	"fmt"

	"uds-rpc/codec"
	"uds-rpc/service"
)

// calcRequestSize is one operation byte plus two float64 operands.
const calcRequestSize = 17

// Calculator invokes the calculator service through a Caller.
type Calculator struct {
	caller Caller
}

func NewCalculator(caller Caller) *Calculator {
	return &Calculator{caller: caller}
}

func (c *Calculator) Add(a, b float64) (float64, error) {
	return c.invoke(service.OpAdd, a, b)
}

func (c *Calculator) Subtract(a, b float64) (float64, error) {
	return c.invoke(service.OpSubtract, a, b)
}

func (c *Calculator) Multiply(a, b float64) (float64, error) {
	return c.invoke(service.OpMultiply, a, b)
}

func (c *Calculator) Divide(a, b float64) (float64, error) {
	return c.invoke(service.OpDivide, a, b)
}

func (c *Calculator) invoke(op byte, a, b float64) (float64, error) {
	req, err := codec.NewBuffer(make([]byte, calcRequestSize))
	if err != nil {
		return 0, err
	}
	if err := req.PutByte(op); err != nil {
		return 0, err
	}
	if err := req.PutFloat64(a); err != nil {
		return 0, err
	}
	if err := req.PutFloat64(b); err != nil {
		return 0, err
	}

	frame, err := c.caller.Call(service.CalculatorRequestID, req.Bytes())
	if err != nil {
		return 0, err
	}
	resp, err := responsePayload(frame, service.CalculatorResponseID)
	if err != nil {
		return 0, err
	}

	status, err := resp.GetByte()
	if err != nil {
		return 0, fmt.Errorf("client: short calculator response: %w", err)
	}
	result, err := resp.GetFloat64()
	if err != nil {
		return 0, fmt.Errorf("client: short calculator response: %w", err)
	}
	errMsg, err := resp.GetString()
	if err != nil {
		return 0, fmt.Errorf("client: short calculator response: %w", err)
	}

	if service.CalcStatus(status) != service.CalcOK {
		return 0, fmt.Errorf("client: calculator: %s", errMsg)
	}
	return result, nil
}

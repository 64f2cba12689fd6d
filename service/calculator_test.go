package service

import (
	"math"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"uds-rpc/codec"
	"uds-rpc/protocol"
)

func calcPayload(t *testing.T, op byte, a, b float64) []byte {
	t.Helper()
	region := make([]byte, 32)
	buf, err := codec.NewBuffer(region)
	if err != nil {
		t.Fatalf("NewBuffer failed: %v", err)
	}
	if err := buf.PutByte(op); err != nil {
		t.Fatalf("PutByte failed: %v", err)
	}
	if err := buf.PutFloat64(a); err != nil {
		t.Fatalf("PutFloat64 failed: %v", err)
	}
	if err := buf.PutFloat64(b); err != nil {
		t.Fatalf("PutFloat64 failed: %v", err)
	}
	return buf.Bytes()
}

func decodeCalcResponse(t *testing.T, frame []byte) (CalcStatus, float64, string) {
	t.Helper()
	parsed, consumed, err := protocol.NextFrame(frame)
	if err != nil {
		t.Fatalf("response is not a valid frame: %v", err)
	}
	if consumed != len(frame) {
		t.Fatalf("response frame has trailing bytes: consumed %d of %d", consumed, len(frame))
	}
	if parsed.RoutineID != CalculatorResponseID {
		t.Fatalf("response routine: got %#x, want %#x", parsed.RoutineID, CalculatorResponseID)
	}

	pb, err := codec.NewBuffer(parsed.Payload)
	if err != nil {
		t.Fatalf("NewBuffer over response payload failed: %v", err)
	}
	status, err := pb.GetByte()
	if err != nil {
		t.Fatalf("GetByte(status) failed: %v", err)
	}
	result, err := pb.GetFloat64()
	if err != nil {
		t.Fatalf("GetFloat64(result) failed: %v", err)
	}
	errMsg, err := pb.GetString()
	if err != nil {
		t.Fatalf("GetString(error) failed: %v", err)
	}
	return CalcStatus(status), result, errMsg
}

func TestCalculatorOperations(t *testing.T) {
	calc := NewCalculator(zaptest.NewLogger(t))

	tests := []struct {
		name   string
		op     byte
		a, b   float64
		status CalcStatus
		result float64
	}{
		{"add", OpAdd, 10.5, 5.3, CalcOK, 15.8},
		{"add negatives", OpAdd, -2.5, -3.5, CalcOK, -6},
		{"subtract", OpSubtract, 10, 4.5, CalcOK, 5.5},
		{"multiply", OpMultiply, 3, -2.5, CalcOK, -7.5},
		{"divide", OpDivide, 10, 4, CalcOK, 2.5},
		{"divide negative", OpDivide, -9, 3, CalcOK, -3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := calc.Execute(calcPayload(t, tt.op, tt.a, tt.b))
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			status, result, errMsg := decodeCalcResponse(t, frame)
			if status != tt.status {
				t.Errorf("status: got %d, want %d", status, tt.status)
			}
			if math.Abs(result-tt.result) > 1e-9 {
				t.Errorf("result: got %g, want %g", result, tt.result)
			}
			if errMsg != "" {
				t.Errorf("error message: got %q, want empty", errMsg)
			}
		})
	}
}

func TestCalculatorDivisionByZero(t *testing.T) {
	calc := NewCalculator(zaptest.NewLogger(t))

	frame, err := calc.Execute(calcPayload(t, OpDivide, 42, 0))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	status, result, errMsg := decodeCalcResponse(t, frame)
	if status != CalcDivisionByZero {
		t.Errorf("status: got %d, want %d", status, CalcDivisionByZero)
	}
	if result != 0 {
		t.Errorf("result: got %g, want 0", result)
	}
	if !strings.Contains(errMsg, "zero") {
		t.Errorf("error message %q should mention zero", errMsg)
	}
}

// A divisor below the epsilon counts as zero even though it is not exactly 0.
func TestCalculatorDivisionByAlmostZero(t *testing.T) {
	calc := NewCalculator(zaptest.NewLogger(t))

	frame, err := calc.Execute(calcPayload(t, OpDivide, 1, 1e-12))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	status, _, _ := decodeCalcResponse(t, frame)
	if status != CalcDivisionByZero {
		t.Errorf("status: got %d, want %d", status, CalcDivisionByZero)
	}
}

func TestCalculatorUnknownOperation(t *testing.T) {
	calc := NewCalculator(zaptest.NewLogger(t))

	frame, err := calc.Execute(calcPayload(t, 0x99, 1, 2))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	status, _, errMsg := decodeCalcResponse(t, frame)
	if status != CalcInvalidOperation {
		t.Errorf("status: got %d, want %d", status, CalcInvalidOperation)
	}
	if errMsg == "" {
		t.Error("error message should not be empty")
	}
}

func TestCalculatorMalformedPayload(t *testing.T) {
	calc := NewCalculator(zaptest.NewLogger(t))

	// Truncated and empty payloads must still produce a well-formed
	// response frame, not an error.
	for _, payload := range [][]byte{nil, {}, {OpAdd}, {OpAdd, 0x3F, 0xF0}} {
		frame, err := calc.Execute(payload)
		if err != nil {
			t.Fatalf("Execute(%v) failed: %v", payload, err)
		}
		status, _, errMsg := decodeCalcResponse(t, frame)
		if status != CalcInvalidInput {
			t.Errorf("status for %v: got %d, want %d", payload, status, CalcInvalidInput)
		}
		if errMsg == "" {
			t.Error("error message should not be empty")
		}
	}
}

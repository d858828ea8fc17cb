package remote

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/mat"
)

func TestCodec_StringAndIntAreBigEndian(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.WriteString("grab"); err != nil {
		t.Fatal(err)
	}
	want := []byte{0, 0, 0, 4, 'g', 'r', 'a', 'b'}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("WriteString bytes = %v, want %v", buf.Bytes(), want)
	}

	dec := NewDecoder(&buf)
	s, err := dec.ReadString()
	if err != nil || s != "grab" {
		t.Errorf("ReadString = %q, %v", s, err)
	}
}

func TestCodec_DoneMessageRoundTrip(t *testing.T) {
	a := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	b := mat.NewDense(1, 1, []float64{-0.5})

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.WriteAxis(CmdXAxis, []float64{0, 0.5, 1}); err != nil {
		t.Fatal(err)
	}
	if err := enc.WriteDone([]*mat.Dense{a, b}); err != nil {
		t.Fatal(err)
	}

	dec := NewDecoder(&buf)
	msg, err := dec.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage(x_axis): %v", err)
	}
	if diff := cmp.Diff([]float64{0, 0.5, 1}, msg.Axis); diff != "" {
		t.Errorf("axis mismatch (-want +got):\n%s", diff)
	}

	msg, err = dec.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage(Done): %v", err)
	}
	if msg.Command != CmdDone || len(msg.Arrays) != 2 {
		t.Fatalf("got %q with %d arrays", msg.Command, len(msg.Arrays))
	}
	if !mat.Equal(a, msg.Arrays[0]) || !mat.Equal(b, msg.Arrays[1]) {
		t.Errorf("arrays did not survive the round trip")
	}

	if _, err := dec.ReadMessage(); !errors.Is(err, io.EOF) {
		t.Errorf("ReadMessage at end = %v, want io.EOF", err)
	}
}

func TestCodec_ReadArrayWidensOtherDtypes(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	enc.WriteString(DTypeFloat32)
	enc.WriteInt(8)
	enc.WriteInt(1)
	enc.WriteInt(2)
	body := make([]byte, 8)
	binary.LittleEndian.PutUint32(body, math.Float32bits(1.5))
	binary.LittleEndian.PutUint32(body[4:], math.Float32bits(-2))
	buf.Write(body)

	enc.WriteString(DTypeUint16)
	enc.WriteInt(4)
	enc.WriteInt(2)
	enc.WriteInt(1)
	buf.Write([]byte{1, 0, 0, 1})

	dec := NewDecoder(&buf)
	f, err := dec.ReadArray()
	if err != nil {
		t.Fatalf("ReadArray(float32): %v", err)
	}
	if f.At(0, 0) != 1.5 || f.At(0, 1) != -2 {
		t.Errorf("float32 array = %v", mat.Formatted(f))
	}
	u, err := dec.ReadArray()
	if err != nil {
		t.Fatalf("ReadArray(uint16): %v", err)
	}
	if u.At(0, 0) != 1 || u.At(1, 0) != 256 {
		t.Errorf("uint16 array = %v", mat.Formatted(u))
	}
}

func TestCodec_Errors(t *testing.T) {
	tests := []struct {
		name  string
		write func(*Encoder)
	}{
		{"unknown dtype", func(e *Encoder) {
			e.WriteString("complex128")
			e.WriteInt(0)
			e.WriteInt(0)
			e.WriteInt(0)
		}},
		{"size mismatch", func(e *Encoder) {
			e.WriteString(DTypeFloat64)
			e.WriteInt(8)
			e.WriteInt(2)
			e.WriteInt(2)
			e.w.Write(make([]byte, 8))
		}},
		{"oversized", func(e *Encoder) {
			e.WriteString(DTypeFloat64)
			e.WriteInt(MaxFrameBytes + 1)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.write(NewEncoder(&buf))
			if _, err := NewDecoder(&buf).ReadArray(); err == nil {
				t.Errorf("ReadArray should fail")
			}
		})
	}
}

func TestCodec_ArrayHeaderShapeIsCheckedBeforeAllocating(t *testing.T) {
	tests := []struct {
		name       string
		nbytes     int32
		rows, cols int32
	}{
		// rows*cols*8 wraps around to nbytes in native int arithmetic.
		{"overflowing shape", 66398264, 2147437487, 1073764905},
		{"negative rows", 8, -1, -1},
		{"partial element", 12, 1, 1},
		{"max int32 square", 8, math.MaxInt32, math.MaxInt32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			enc := NewEncoder(&buf)
			enc.WriteString(DTypeFloat64)
			enc.WriteInt(tt.nbytes)
			enc.WriteInt(tt.rows)
			enc.WriteInt(tt.cols)
			buf.Write(make([]byte, 64))

			var err error
			func() {
				defer func() {
					if r := recover(); r != nil {
						t.Fatalf("ReadArray panicked: %v", r)
					}
				}()
				_, err = NewDecoder(&buf).ReadArray()
			}()
			if !errors.Is(err, ErrArrayShape) {
				t.Errorf("ReadArray err = %v, want ErrArrayShape", err)
			}
		})
	}
}

func TestCodec_TruncatedMessageIsUnexpectedEOF(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	enc.WriteString(CmdDone)
	enc.WriteInt(2)
	enc.WriteArray(mat.NewDense(1, 1, []float64{1}))

	_, err := NewDecoder(&buf).ReadMessage()
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("ReadMessage = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestCodec_EmptyArray(t *testing.T) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf).WriteArray(nil); err != nil {
		t.Fatal(err)
	}
	m, err := NewDecoder(&buf).ReadArray()
	if err != nil {
		t.Fatal(err)
	}
	if !m.IsEmpty() {
		t.Errorf("expected empty matrix")
	}
}

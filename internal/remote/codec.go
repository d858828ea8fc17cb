// Package remote proxies a detector running in another process. A Server
// accepts one remote grabber over TCP and forwards its results to a
// ServerDetector; a Client serves a local detector to such a server over TCP
// or a serial link.
package remote

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Commands exchanged on the wire.
const (
	// GrabberType is the first string a client sends after connecting.
	GrabberType = "GRABBER"

	CmdGrab  = "grab"
	CmdStop  = "stop"
	CmdDone  = "Done"
	CmdXAxis = "x_axis"
	CmdYAxis = "y_axis"
)

// Supported array element types.
const (
	DTypeFloat64 = "float64"
	DTypeFloat32 = "float32"
	DTypeInt32   = "int32"
	DTypeUint16  = "uint16"
)

// MaxFrameBytes bounds a single string or array payload.
const MaxFrameBytes = 64 << 20

// ErrFrameTooLarge is returned when a length prefix exceeds MaxFrameBytes.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// ErrArrayShape is returned when an array header does not describe its body.
var ErrArrayShape = errors.New("array shape does not match payload")

// Encoder writes length-prefixed frames. Integers are big-endian; array
// elements are little-endian.
type Encoder struct {
	w   io.Writer
	buf [4]byte
}

func NewEncoder(w io.Writer) *Encoder { return &Encoder{w: w} }

// WriteInt writes a 4-byte signed integer.
func (e *Encoder) WriteInt(v int32) error {
	binary.BigEndian.PutUint32(e.buf[:], uint32(v))
	_, err := e.w.Write(e.buf[:])
	return err
}

// WriteString writes a length-prefixed UTF-8 string.
func (e *Encoder) WriteString(s string) error {
	if err := e.WriteInt(int32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(e.w, s)
	return err
}

// WriteArray writes m as float64: dtype, byte length, rows, cols, then the
// row-major data.
func (e *Encoder) WriteArray(m *mat.Dense) error {
	var rows, cols int
	if m != nil && !m.IsEmpty() {
		rows, cols = m.Dims()
	}
	body := make([]byte, 8*rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			binary.LittleEndian.PutUint64(body[8*(i*cols+j):], math.Float64bits(m.At(i, j)))
		}
	}
	if err := e.WriteString(DTypeFloat64); err != nil {
		return err
	}
	for _, v := range []int{len(body), rows, cols} {
		if err := e.WriteInt(int32(v)); err != nil {
			return err
		}
	}
	_, err := e.w.Write(body)
	return err
}

// WriteVector writes v as a single-row array.
func (e *Encoder) WriteVector(v []float64) error {
	if len(v) == 0 {
		return e.WriteArray(nil)
	}
	return e.WriteArray(mat.NewDense(1, len(v), v))
}

// Decoder reads frames written by Encoder.
type Decoder struct {
	r   io.Reader
	buf [4]byte
}

func NewDecoder(r io.Reader) *Decoder { return &Decoder{r: r} }

// ReadInt reads a 4-byte signed integer.
func (d *Decoder) ReadInt() (int32, error) {
	if _, err := io.ReadFull(d.r, d.buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(d.buf[:])), nil
}

func (d *Decoder) readLen() (int, error) {
	n, err := d.ReadInt()
	if err != nil {
		return 0, err
	}
	if n < 0 || n > MaxFrameBytes {
		return 0, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	return int(n), nil
}

// ReadString reads a length-prefixed string.
func (d *Decoder) ReadString() (string, error) {
	n, err := d.readLen()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadArray reads an array of any supported dtype and widens it to float64.
func (d *Decoder) ReadArray() (*mat.Dense, error) {
	dtype, err := d.ReadString()
	if err != nil {
		return nil, err
	}
	nbytes, err := d.readLen()
	if err != nil {
		return nil, err
	}
	rows, err := d.ReadInt()
	if err != nil {
		return nil, err
	}
	cols, err := d.ReadInt()
	if err != nil {
		return nil, err
	}
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrArrayShape, rows, cols)
	}
	size, decode := elementDecoder(dtype)
	if decode == nil {
		return nil, fmt.Errorf("unsupported dtype %q", dtype)
	}
	// rows*cols fits in int64 for any int32 pair; nbytes is already bounded.
	if want := int64(rows) * int64(cols); nbytes%size != 0 || want != int64(nbytes/size) {
		return nil, fmt.Errorf("%w: %dx%d of %s does not fit %d bytes", ErrArrayShape, rows, cols, dtype, nbytes)
	}
	body := make([]byte, nbytes)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return nil, err
	}
	n := int(rows) * int(cols)
	if n == 0 {
		return &mat.Dense{}, nil
	}
	data := make([]float64, n)
	for k := range data {
		data[k] = decode(body[k*size:])
	}
	return mat.NewDense(int(rows), int(cols), data), nil
}

// ReadVector reads an array and flattens it.
func (d *Decoder) ReadVector() ([]float64, error) {
	m, err := d.ReadArray()
	if err != nil {
		return nil, err
	}
	if m.IsEmpty() {
		return nil, nil
	}
	return mat.DenseCopyOf(m).RawMatrix().Data, nil
}

func elementDecoder(dtype string) (int, func([]byte) float64) {
	switch dtype {
	case DTypeFloat64:
		return 8, func(b []byte) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(b)) }
	case DTypeFloat32:
		return 4, func(b []byte) float64 { return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))) }
	case DTypeInt32:
		return 4, func(b []byte) float64 { return float64(int32(binary.LittleEndian.Uint32(b))) }
	case DTypeUint16:
		return 2, func(b []byte) float64 { return float64(binary.LittleEndian.Uint16(b)) }
	}
	return 0, nil
}

// Message is one decoded client-to-server message.
type Message struct {
	Command string
	Arrays  []*mat.Dense
	Axis    []float64
}

// ReadMessage decodes the next client-to-server message. Unknown commands
// are returned with no payload.
func (d *Decoder) ReadMessage() (Message, error) {
	cmd, err := d.ReadString()
	if err != nil {
		return Message{}, err
	}
	msg := Message{Command: cmd}
	switch cmd {
	case CmdDone:
		n, err := d.ReadInt()
		if err != nil {
			return msg, fmt.Errorf("read %s count: %w", cmd, noEOF(err))
		}
		if n < 0 {
			return msg, fmt.Errorf("negative array count %d", n)
		}
		for i := int32(0); i < n; i++ {
			a, err := d.ReadArray()
			if err != nil {
				return msg, fmt.Errorf("read %s array %d: %w", cmd, i, noEOF(err))
			}
			msg.Arrays = append(msg.Arrays, a)
		}
	case CmdXAxis, CmdYAxis:
		v, err := d.ReadVector()
		if err != nil {
			return msg, fmt.Errorf("read %s: %w", cmd, noEOF(err))
		}
		msg.Axis = v
	}
	return msg, nil
}

// WriteDone writes a Done message carrying arrays.
func (e *Encoder) WriteDone(arrays []*mat.Dense) error {
	if err := e.WriteString(CmdDone); err != nil {
		return err
	}
	if err := e.WriteInt(int32(len(arrays))); err != nil {
		return err
	}
	for _, a := range arrays {
		if err := e.WriteArray(a); err != nil {
			return err
		}
	}
	return nil
}

// WriteAxis writes an x_axis or y_axis message.
func (e *Encoder) WriteAxis(cmd string, v []float64) error {
	if err := e.WriteString(cmd); err != nil {
		return err
	}
	return e.WriteVector(v)
}

// noEOF reports a clean EOF inside a message as truncation.
func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

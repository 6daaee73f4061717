package stats

import (
	"errors"
	"math"
	"math/bits"

	"github.com/minio/highwayhash"
)

// CardinalityPrecision trades memory for accuracy: 2^p one-byte registers,
// standard error around 1.04/sqrt(2^p). Precision 10 is 1KB and ~3.2%.
const CardinalityPrecision = 10

// ErrInvalidSketch is returned when decoding a malformed sketch.
var ErrInvalidSketch = errors.New("cardinality: invalid serialized data")

var sketchKey = []byte("0123456789ABCDEF0123456789ABCDEF")

// Cardinality estimates the number of distinct values with a HyperLogLog
// sketch. Unlike the histogram it keeps counting after a path's values stop
// fitting in memory.
type Cardinality struct {
	precision uint8
	m         uint32
	registers []uint8
	alpha     float64
}

// NewCardinality creates a sketch with the given precision (4-18).
func NewCardinality(precision uint8) *Cardinality {
	if precision < 4 || precision > 18 {
		precision = CardinalityPrecision
	}

	m := uint32(1 << precision)

	var alpha float64
	switch m {
	case 16:
		alpha = 0.673
	case 32:
		alpha = 0.697
	case 64:
		alpha = 0.709
	default:
		alpha = 0.7213 / (1 + 1.079/float64(m))
	}

	return &Cardinality{
		precision: precision,
		m:         m,
		registers: make([]uint8, m),
		alpha:     alpha,
	}
}

// Add records value.
func (c *Cardinality) Add(value string) {
	c.addHash(highwayhash.Sum64([]byte(value), sketchKey))
}

func (c *Cardinality) addHash(hash uint64) {
	index := hash & ((1 << c.precision) - 1)
	w := hash >> c.precision

	var rank uint8
	if w == 0 {
		rank = uint8(64 - c.precision + 1)
	} else {
		rank = uint8(bits.LeadingZeros64(w) - int(c.precision) + 1)
	}

	if rank > c.registers[index] {
		c.registers[index] = rank
	}
}

// Estimate returns the approximate number of distinct values added.
func (c *Cardinality) Estimate() uint64 {
	sum := 0.0
	zeros := 0
	for _, val := range c.registers {
		sum += 1.0 / float64(uint64(1)<<val)
		if val == 0 {
			zeros++
		}
	}

	m := float64(c.m)
	estimate := c.alpha * m * m / sum

	if estimate <= 2.5*m {
		if zeros != 0 {
			estimate = m * math.Log(m/float64(zeros))
		}
	} else if estimate > (1.0/30.0)*math.Pow(2, 32) {
		estimate = -math.Pow(2, 32) * math.Log(1-estimate/math.Pow(2, 32))
	}

	return uint64(estimate)
}

// MarshalBinary encodes the sketch as [precision][registers...].
func (c *Cardinality) MarshalBinary() ([]byte, error) {
	data := make([]byte, 1+len(c.registers))
	data[0] = c.precision
	copy(data[1:], c.registers)
	return data, nil
}

// UnmarshalBinary decodes a sketch written by MarshalBinary.
func (c *Cardinality) UnmarshalBinary(data []byte) error {
	if len(data) < 2 {
		return ErrInvalidSketch
	}
	precision := data[0]
	if precision < 4 || precision > 18 {
		return ErrInvalidSketch
	}
	if len(data) != 1+(1<<precision) {
		return ErrInvalidSketch
	}
	*c = *NewCardinality(precision)
	copy(c.registers, data[1:])
	return nil
}

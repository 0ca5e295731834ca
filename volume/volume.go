/*
	Package volume builds region adjacency graphs from dense label volumes and
	their per-voxel prediction channels.
*/
package volume

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/janelia-flyem/NeuroProof-sub000/labelmap"
	"github.com/janelia-flyem/NeuroProof-sub000/np"
)

// Point3d is a voxel coordinate or a volume size.
type Point3d [3]int32

// NumVoxels returns the number of voxels in a volume of this size.
func (p Point3d) NumVoxels() int64 {
	return int64(p[0]) * int64(p[1]) * int64(p[2])
}

func (p Point3d) String() string {
	return fmt.Sprintf("(%d,%d,%d)", p[0], p[1], p[2])
}

func (p Point3d) check() error {
	if p[0] <= 0 || p[1] <= 0 || p[2] <= 0 {
		return fmt.Errorf("bad volume size %s", p)
	}
	return nil
}

// Labels is a dense label volume stored x fastest.  Label 0 is background.
type Labels struct {
	Size Point3d
	Data []uint64
}

// NewLabels returns a zeroed label volume.
func NewLabels(size Point3d) (*Labels, error) {
	if err := size.check(); err != nil {
		return nil, err
	}
	return &Labels{Size: size, Data: make([]uint64, size.NumVoxels())}, nil
}

func (v *Labels) index(x, y, z int32) int {
	return int(x) + int(v.Size[0])*(int(y)+int(v.Size[1])*int(z))
}

// At returns the label at (x, y, z).
func (v *Labels) At(x, y, z int32) uint64 {
	return v.Data[v.index(x, y, z)]
}

// Set writes the label at (x, y, z).
func (v *Labels) Set(x, y, z int32, label uint64) {
	v.Data[v.index(x, y, z)] = label
}

// Channel is one dense prediction volume.
type Channel struct {
	Size Point3d
	Data []float32
}

// NewChannel returns a zeroed prediction volume.
func NewChannel(size Point3d) (*Channel, error) {
	if err := size.check(); err != nil {
		return nil, err
	}
	return &Channel{Size: size, Data: make([]float32, size.NumVoxels())}, nil
}

// Relabel returns a copy of the volume with every label replaced by its final
// label in the mapping.
func Relabel(v *Labels, m *labelmap.Mapping) *Labels {
	out := &Labels{Size: v.Size, Data: make([]uint64, len(v.Data))}
	cache := make(map[uint64]uint64)
	for i, label := range v.Data {
		if label == 0 {
			continue
		}
		final, found := cache[label]
		if !found {
			final, _ = m.FinalLabel(label)
			cache[label] = final
		}
		out.Data[i] = final
	}
	return out
}

// ReadLabels reads a raw little-endian uint64 volume of the given size.
func ReadLabels(r io.Reader, size Point3d) (*Labels, error) {
	v, err := NewLabels(size)
	if err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, v.Data); err != nil {
		return nil, fmt.Errorf("unable to read %s label volume: %v", size, err)
	}
	return v, nil
}

// WriteLabels writes the volume as raw little-endian uint64.
func WriteLabels(w io.Writer, v *Labels) error {
	return binary.Write(w, binary.LittleEndian, v.Data)
}

// ReadChannel reads a raw little-endian float32 volume of the given size.
func ReadChannel(r io.Reader, size Point3d) (*Channel, error) {
	c, err := NewChannel(size)
	if err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, c.Data); err != nil {
		return nil, fmt.Errorf("unable to read %s prediction volume: %v", size, err)
	}
	return c, nil
}

// WriteChannel writes the volume as raw little-endian float32.
func WriteChannel(w io.Writer, c *Channel) error {
	return binary.Write(w, binary.LittleEndian, c.Data)
}

// ReadLabelsFile reads a raw label volume from a file.
func ReadLabelsFile(path string, size Point3d) (*Labels, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadLabels(f, size)
}

// ReadChannelFile reads a raw prediction volume from a file.
func ReadChannelFile(path string, size Point3d) (*Channel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadChannel(f, size)
}

// WriteLabelsFile writes a raw label volume to a file.
func WriteLabelsFile(path string, v *Labels) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteLabels(f, v); err != nil {
		f.Close()
		return err
	}
	np.Debugf("Wrote %s label volume to %s\n", v.Size, path)
	return f.Close()
}

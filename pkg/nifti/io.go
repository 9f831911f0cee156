package nifti

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"mrivolumes/internal/models"
)

const description = "mrivolumes"

// IsVolumeFile reports whether a file name has a NIfTI extension.
func IsVolumeFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".nii") || strings.HasSuffix(lower, ".nii.gz")
}

// Write encodes a volume as an uncompressed single-file NIfTI-1 stream.
func Write(w io.Writer, vol *models.Volume) error {
	h, err := newHeader(vol, description)
	if err != nil {
		return err
	}
	if len(vol.Data) != vol.Len() {
		return fmt.Errorf("volume has %d samples for shape %v", len(vol.Data), vol.Shape)
	}

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	// empty extension block
	if _, err := bw.Write([]byte{0, 0, 0, 0}); err != nil {
		return fmt.Errorf("failed to write extension flag: %w", err)
	}

	nb, _ := bytesPerVoxel(vol.DataType)
	buf := make([]byte, nb)
	n0, n1, n2 := vol.Shape[0], vol.Shape[1], vol.Shape[2]
	// on disk the first axis varies fastest
	for k := 0; k < n2; k++ {
		for j := 0; j < n1; j++ {
			for i := 0; i < n0; i++ {
				encodeSample(buf, vol.DataType, vol.Data[(i*n1+j)*n2+k])
				if _, err := bw.Write(buf); err != nil {
					return fmt.Errorf("failed to write data: %w", err)
				}
			}
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}

// WriteFile writes a volume to path, gzip-compressed when the name ends in .gz.
// The parent directory is created if needed. The volume is written to a
// temporary file in the same directory and renamed over path on success, so
// a failed write leaves nothing behind.
func WriteFile(path string, vol *models.Volume) error {
	if _, err := newHeader(vol, description); err != nil {
		return err
	}
	if len(vol.Data) != vol.Len() {
		return fmt.Errorf("volume has %d samples for shape %v", len(vol.Data), vol.Shape)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmp := f.Name()

	if err := writeTo(f, path, vol); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to move volume into place: %w", err)
	}
	return nil
}

func writeTo(f *os.File, path string, vol *models.Volume) error {
	if !strings.HasSuffix(strings.ToLower(path), ".gz") {
		return Write(f, vol)
	}
	zw := gzip.NewWriter(f)
	if err := Write(zw, vol); err != nil {
		return err
	}
	return zw.Close()
}

// Read decodes a single-file NIfTI-1 stream, compressed or not.
func Read(r io.Reader) (*models.Volume, *Header, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	var src io.Reader = br
	if magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(src, raw); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	order, err := byteOrderFor(raw)
	if err != nil {
		return nil, nil, err
	}

	var h Header
	if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	if err := h.validate(); err != nil {
		return nil, nil, err
	}

	offset := int64(h.VoxOffset)
	if offset < dataOffset {
		offset = dataOffset
	}
	if _, err := io.CopyN(io.Discard, src, offset-headerSize); err != nil {
		return nil, nil, fmt.Errorf("failed to skip to data: %w", err)
	}

	dt := models.DataType(h.DataType)
	nb, _ := bytesPerVoxel(dt)
	shape := [3]int{int(h.Dim[1]), int(h.Dim[2]), int(h.Dim[3])}
	vol := &models.Volume{
		Data:     make([]float64, shape[0]*shape[1]*shape[2]),
		Shape:    shape,
		Affine:   h.Affine(),
		DataType: dt,
	}

	payload := make([]byte, vol.Len()*nb)
	if _, err := io.ReadFull(src, payload); err != nil {
		return nil, nil, fmt.Errorf("failed to read data: %w", err)
	}

	slope, inter := float64(h.SclSlope), float64(h.SclInter)
	scaled := slope != 0 && (slope != 1 || inter != 0)
	if scaled {
		vol.DataType = models.Float32
	}

	n0, n1, n2 := shape[0], shape[1], shape[2]
	pos := 0
	for k := 0; k < n2; k++ {
		for j := 0; j < n1; j++ {
			for i := 0; i < n0; i++ {
				v := decodeSample(payload[pos:pos+nb], dt, order)
				if scaled {
					v = v*slope + inter
				}
				vol.Data[(i*n1+j)*n2+k] = v
				pos += nb
			}
		}
	}

	return vol, &h, nil
}

// ReadFile reads a .nii or .nii.gz file.
func ReadFile(path string) (*models.Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vol, _, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return vol, nil
}

func encodeSample(buf []byte, dt models.DataType, v float64) {
	le := binary.LittleEndian
	switch dt {
	case models.Uint8:
		buf[0] = uint8(clampRound(v, 0, math.MaxUint8))
	case models.Int8:
		buf[0] = byte(int8(clampRound(v, math.MinInt8, math.MaxInt8)))
	case models.Int16:
		le.PutUint16(buf, uint16(int16(clampRound(v, math.MinInt16, math.MaxInt16))))
	case models.Uint16:
		le.PutUint16(buf, uint16(clampRound(v, 0, math.MaxUint16)))
	case models.Int32:
		le.PutUint32(buf, uint32(int32(clampRound(v, math.MinInt32, math.MaxInt32))))
	case models.Uint32:
		le.PutUint32(buf, uint32(clampRound(v, 0, math.MaxUint32)))
	case models.Float32:
		le.PutUint32(buf, math.Float32bits(float32(v)))
	case models.Float64:
		le.PutUint64(buf, math.Float64bits(v))
	}
}

func decodeSample(b []byte, dt models.DataType, order binary.ByteOrder) float64 {
	switch dt {
	case models.Uint8:
		return float64(b[0])
	case models.Int8:
		return float64(int8(b[0]))
	case models.Int16:
		return float64(int16(order.Uint16(b)))
	case models.Uint16:
		return float64(order.Uint16(b))
	case models.Int32:
		return float64(int32(order.Uint32(b)))
	case models.Uint32:
		return float64(order.Uint32(b))
	case models.Float32:
		return float64(math.Float32frombits(order.Uint32(b)))
	case models.Float64:
		return math.Float64frombits(order.Uint64(b))
	}
	return 0
}

func clampRound(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, math.Round(v)))
}

package tripletnet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/boltdb/bolt"
)

var (
	ErrFixedLayerInvalidData = errors.New("invalid fixed layer data")
	ErrInvalidBucket         = errors.New("invalid bolt bucket")
)

const (
	bucketTypeByte    = "byte"
	bucketTypeFloat32 = "float32"
)

type DataLayer interface {
	Layer
	CurrentInputIndex() int
	NumInputs() int
}

// FixedDataLayer serves in-memory samples, one input per forward pass.
// Data[i][j] is input j of top i.
type FixedDataLayer struct {
	BaseLayer
	DataDims   []*BlobPoint
	Data       [][][]float32
	numInputs  int
	inputIndex int
}

var _ = DataLayer(new(FixedDataLayer))

func (l *FixedDataLayer) LayerType() string { return "FixedData" }

func (l *FixedDataLayer) Setup(d *LayerData) error {
	if len(l.Data) == 0 {
		return ErrFixedLayerInvalidData
	}
	if len(l.Data) != len(l.DataDims) {
		return ErrFixedLayerInvalidData
	}

	err := l.checkNames(0, len(l.Data))
	if err != nil {
		return err
	}

	l.inputIndex = 0
	l.numInputs = len(l.Data[0])
	if l.numInputs == 0 {
		return ErrFixedLayerInvalidData
	}
	for i := 0; i < len(l.Data); i++ {
		data := l.Data[i]
		if len(data) != l.numInputs {
			return ErrFixedLayerInvalidData
		}
		dataSize := l.DataDims[i].Size()
		for j := 0; j < len(data); j++ {
			if len(data[j]) != dataSize {
				return fmt.Errorf("%w: top %s input %d has %d values, want %d",
					ErrFixedLayerInvalidData, l.TopNames[i], j, len(data[j]), dataSize)
			}
		}
	}

	d.Top = make([]*Blob, len(l.Data))
	for i := 0; i < len(l.Data); i++ {
		d.Top[i] = NewBlob(l.TopNames[i], l.DataDims[i])
	}
	return nil
}

func (l *FixedDataLayer) Reshape(d *LayerData) error { return nil }

func (l *FixedDataLayer) FeedForward(d *LayerData) float32 {
	for i := 0; i < len(l.Data); i++ {
		Copy32(l.Data[i][l.inputIndex], d.Top[i].Data.MutableCpuValues(), l.DataDims[i].Size(), 0)
	}
	l.inputIndex = (l.inputIndex + 1) % l.numInputs
	return 0
}

func (l *FixedDataLayer) FeedBackward(d *LayerData, paramPropagate bool) {}
func (l *FixedDataLayer) CurrentInputIndex() int                         { return l.inputIndex }
func (l *FixedDataLayer) NumInputs() int                                 { return l.numInputs }

// BoltDbDataLayer reads batches of samples from a bolt database. Each top
// name is a bucket keyed by the little endian sample index, described by a
// companion "<name>_dim" bucket.
type BoltDbDataLayer struct {
	BaseLayer
	DbFileName string
	NumInBatch int
	db         *bolt.DB
	dims       []*BlobPoint
	types      []string
	numInputs  int
	inputIndex int
	err        error
}

var _ = DataLayer(new(BoltDbDataLayer))

func (l *BoltDbDataLayer) LayerType() string { return "BoltData" }

func intFromBytes(p []byte) int {
	return int(binary.LittleEndian.Uint32(p))
}

func intToBytes(n int) []byte {
	p := make([]byte, 4)
	binary.LittleEndian.PutUint32(p, uint32(n))
	return p
}

func readBucketDim(tx *bolt.Tx, bucketName string) (*BlobPoint, string, error) {
	b := tx.Bucket([]byte(bucketName + "_dim"))
	if b == nil {
		return nil, "", fmt.Errorf("%w: missing dimension bucket for %s", ErrInvalidBucket, bucketName)
	}
	dim := new(BlobPoint)
	fields := []struct {
		key string
		val *int
	}{
		{"num", &dim.Batch},
		{"channel", &dim.Channel},
		{"height", &dim.Height},
		{"width", &dim.Width},
	}
	for _, f := range fields {
		v := b.Get([]byte(f.key))
		if len(v) != 4 {
			return nil, "", fmt.Errorf("%w: invalid %s for %s", ErrInvalidBucket, f.key, bucketName)
		}
		*f.val = intFromBytes(v)
	}
	if dim.Batch == 0 || dim.Channel == 0 || dim.Height == 0 || dim.Width == 0 {
		return nil, "", fmt.Errorf("%w: invalid bucket dimension %s for %s", ErrInvalidBucket, dim, bucketName)
	}
	bucketType := string(b.Get([]byte("type")))
	if bucketType == "" {
		bucketType = bucketTypeByte
	}
	if bucketType != bucketTypeByte && bucketType != bucketTypeFloat32 {
		return nil, "", fmt.Errorf("%w: unknown type %q for %s", ErrInvalidBucket, bucketType, bucketName)
	}
	return dim, bucketType, nil
}

func (l *BoltDbDataLayer) Setup(d *LayerData) (err error) {
	if err = l.checkBottomNames(0); err != nil {
		return err
	}
	if len(l.TopNames) == 0 {
		return l.checkTopNames(1)
	}
	if l.NumInBatch <= 0 {
		return fmt.Errorf("%w: layer %s requires batch_size", ErrConfigurationMissing, l.Name)
	}
	l.db, err = bolt.Open(l.DbFileName, 0400, &bolt.Options{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("open %s: %w", l.DbFileName, err)
	}

	l.dims = make([]*BlobPoint, len(l.TopNames))
	l.types = make([]string, len(l.TopNames))
	err = l.db.View(func(tx *bolt.Tx) error {
		for i, bucketName := range l.TopNames {
			dim, bucketType, err := readBucketDim(tx, bucketName)
			if err != nil {
				return err
			}
			if i > 0 && dim.Batch != l.numInputs {
				return fmt.Errorf("%w: each bucket needs the same number of inputs", ErrInvalidBucket)
			}
			l.numInputs = dim.Batch
			dim.Batch = l.NumInBatch
			l.dims[i] = dim
			l.types[i] = bucketType
		}
		return nil
	})
	if err != nil {
		l.db.Close()
		return err
	}

	d.Top = make([]*Blob, len(l.TopNames))
	for i, topName := range l.TopNames {
		d.Top[i] = NewBlob(topName, l.dims[i])
	}

	l.inputIndex = 0
	return nil
}

func (l *BoltDbDataLayer) Reshape(d *LayerData) error { return nil }

func (l *BoltDbDataLayer) FeedForward(d *LayerData) float32 {
	err := l.db.View(func(tx *bolt.Tx) error {
		index := l.inputIndex
		for n := 0; n < l.NumInBatch; n++ {
			inputKey := intToBytes(index)
			for topIndex, top := range d.Top {
				sampleSize := l.dims[topIndex].BatchSize()
				topDataSlice := Subslice32(top.Data.MutableCpuValues(), n, sampleSize)
				b := tx.Bucket([]byte(l.TopNames[topIndex]))
				if b == nil {
					return fmt.Errorf("%w: missing bucket %s", ErrInvalidBucket, l.TopNames[topIndex])
				}
				if err := decodeSample(b.Get(inputKey), l.types[topIndex], topDataSlice); err != nil {
					return fmt.Errorf("%s[%d]: %w", l.TopNames[topIndex], index, err)
				}
			}
			index = (index + 1) % l.numInputs
		}
		l.inputIndex = index
		return nil
	})
	if err != nil {
		l.err = err
		log.Printf("Data layer %s: %v\n", l.Name, err)
	}
	return 0
}

func decodeSample(p []byte, bucketType string, dst []float32) error {
	switch bucketType {
	case bucketTypeFloat32:
		if len(p) != 4*len(dst) {
			return fmt.Errorf("%w: sample has %d bytes, want %d", ErrInvalidBucket, len(p), 4*len(dst))
		}
		for i := range dst {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(p[4*i:]))
		}
	default:
		if len(p) != len(dst) {
			return fmt.Errorf("%w: sample has %d bytes, want %d", ErrInvalidBucket, len(p), len(dst))
		}
		for i := range dst {
			dst[i] = float32(p[i]) / float32(256)
		}
	}
	return nil
}

func (l *BoltDbDataLayer) FeedBackward(d *LayerData, paramPropagate bool) {}
func (l *BoltDbDataLayer) CurrentInputIndex() int                         { return l.inputIndex }
func (l *BoltDbDataLayer) NumInputs() int                                 { return l.numInputs }

// Err returns the last read error hit during a forward pass.
func (l *BoltDbDataLayer) Err() error { return l.err }

func (l *BoltDbDataLayer) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// WriteBoltBucket stores samples as a float32 bucket readable by
// BoltDbDataLayer. dim.Batch is ignored, the sample count is len(samples).
func WriteBoltBucket(db *bolt.DB, bucketName string, dim BlobPoint, samples [][]float32) error {
	dim.Batch = len(samples)
	return db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		if err != nil {
			return err
		}
		bucketDim, err := tx.CreateBucketIfNotExists([]byte(bucketName + "_dim"))
		if err != nil {
			return err
		}
		meta := map[string][]byte{
			"type":    []byte(bucketTypeFloat32),
			"num":     intToBytes(dim.Batch),
			"channel": intToBytes(dim.Channel),
			"height":  intToBytes(dim.Height),
			"width":   intToBytes(dim.Width),
		}
		for k, v := range meta {
			if err := bucketDim.Put([]byte(k), v); err != nil {
				return err
			}
		}
		sampleSize := dim.BatchSize()
		for index, sample := range samples {
			if len(sample) != sampleSize {
				return fmt.Errorf("%w: sample %d has %d values, want %d", ErrInvalidBucket, index, len(sample), sampleSize)
			}
			p := make([]byte, 4*sampleSize)
			for i, v := range sample {
				binary.LittleEndian.PutUint32(p[4*i:], math.Float32bits(v))
			}
			if err := bucket.Put(intToBytes(index), p); err != nil {
				return err
			}
		}
		return nil
	})
}

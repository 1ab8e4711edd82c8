// Command create_triplet_db turns the MNIST idx files into a bolt database of
// (anchor, positive, negative) triplets with one-hot label vectors, in the
// layout read by the BoltData layer.
package main

import (
	"bufio"
	"encoding/binary"
	"errors"
	"flag"
	"log"
	"math/rand/v2"
	"os"

	"github.com/boltdb/bolt"
	"github.com/flammit/tripletnet"
)

func read(in *bufio.Reader, p []byte) error {
	var err error
	for i := 0; i < len(p); i++ {
		p[i], err = in.ReadByte()
		if err != nil {
			return err
		}
	}
	return nil
}

func readInt(in *bufio.Reader) (uint32, error) {
	p := make([]byte, 4)
	err := read(in, p)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(p), nil
}

func loadImages(file string) (images [][]float32, rows, cols int, err error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()

	// check magic number
	in := bufio.NewReader(f)
	magicNumber, err := readInt(in)
	if err != nil {
		return nil, 0, 0, err
	}
	if magicNumber != 2051 {
		return nil, 0, 0, errors.New("invalid magic number for image file")
	}

	header := make([]uint32, 3)
	for i := range header {
		if header[i], err = readInt(in); err != nil {
			return nil, 0, 0, err
		}
	}
	numItems, rows, cols := int(header[0]), int(header[1]), int(header[2])
	log.Printf("Image file contains %d images, rows=%d, cols=%d\n", numItems, rows, cols)

	pixels := make([]byte, rows*cols)
	images = make([][]float32, numItems)
	for index := range images {
		if err := read(in, pixels); err != nil {
			return nil, 0, 0, err
		}
		image := make([]float32, len(pixels))
		for i, p := range pixels {
			image[i] = float32(p) / float32(256)
		}
		images[index] = image
	}
	return images, rows, cols, nil
}

func loadLabels(file string) ([]int, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	in := bufio.NewReader(f)
	magicNumber, err := readInt(in)
	if err != nil {
		return nil, err
	}
	if magicNumber != 2049 {
		return nil, errors.New("invalid magic number for label file")
	}
	numItems, err := readInt(in)
	if err != nil {
		return nil, err
	}
	log.Printf("Label file contains %d labels\n", numItems)

	label := make([]byte, numItems)
	if err := read(in, label); err != nil {
		return nil, err
	}
	labels := make([]int, numItems)
	for i, l := range label {
		labels[i] = int(l)
	}
	return labels, nil
}

type triplets struct {
	anchor        [][]float32
	positive      [][]float32
	negative      [][]float32
	labelAnchor   [][]float32
	labelPos      [][]float32
	labelNegative [][]float32
}

func oneHot(class, size int) []float32 {
	v := make([]float32, size)
	if class < size {
		v[class] = 1
	}
	return v
}

func makeTriplets(images [][]float32, labels []int, numClasses int, rng *rand.Rand) (*triplets, error) {
	if numClasses < 2 {
		return nil, errors.New("need at least 2 classes")
	}
	byClass := make([][]int, numClasses)
	for i, l := range labels {
		if l >= numClasses {
			return nil, errors.New("label out of range")
		}
		byClass[l] = append(byClass[l], i)
	}
	t := new(triplets)
	for i, class := range labels {
		same := byClass[class]
		other := rng.IntN(numClasses - 1)
		if other >= class {
			other++
		}
		if len(byClass[other]) == 0 {
			continue
		}
		p := same[rng.IntN(len(same))]
		n := byClass[other][rng.IntN(len(byClass[other]))]

		t.anchor = append(t.anchor, images[i])
		t.positive = append(t.positive, images[p])
		t.negative = append(t.negative, images[n])
		t.labelAnchor = append(t.labelAnchor, oneHot(class, numClasses))
		t.labelPos = append(t.labelPos, oneHot(class, numClasses))
		t.labelNegative = append(t.labelNegative, oneHot(other, numClasses))
	}
	return t, nil
}

func main() {
	imageFile := flag.String("images", "train-images-idx3-ubyte", "MNIST image file")
	labelFile := flag.String("labels", "train-labels-idx1-ubyte", "MNIST label file")
	dbFile := flag.String("db", "triplets.db", "bolt database to create")
	numClasses := flag.Int("classes", 10, "number of classes, also the label vector length")
	seed := flag.Uint64("seed", 1701, "random seed for picking positives and negatives")
	flag.Parse()
	if *numClasses < 2 {
		log.Fatalf("Need at least 2 classes to pick negatives, got %d\n", *numClasses)
	}

	log.Printf("Creating bolt db file '%s' with image file '%s' and label file '%s'\n", *dbFile, *imageFile, *labelFile)

	images, rows, cols, err := loadImages(*imageFile)
	if err != nil {
		log.Fatalf("Failed to load images: error='%s'\n", err)
	}
	labels, err := loadLabels(*labelFile)
	if err != nil {
		log.Fatalf("Failed to load labels: error='%s'\n", err)
	}
	if len(labels) != len(images) {
		log.Fatalf("Image and label counts differ: %d != %d\n", len(images), len(labels))
	}

	t, err := makeTriplets(images, labels, *numClasses, rand.New(rand.NewPCG(*seed, *seed)))
	if err != nil {
		log.Fatalf("Failed to build triplets: error='%s'\n", err)
	}

	db, err := bolt.Open(*dbFile, 0600, nil)
	if err != nil {
		log.Fatalf("Failed to open db file: error='%s'\n", err)
	}
	defer db.Close()

	imageDim := tripletnet.BlobPoint{Channel: 1, Height: rows, Width: cols}
	labelDim := tripletnet.BlobPoint{Channel: *numClasses, Height: 1, Width: 1}
	buckets := []struct {
		name    string
		dim     tripletnet.BlobPoint
		samples [][]float32
	}{
		{"anchor", imageDim, t.anchor},
		{"positive", imageDim, t.positive},
		{"negative", imageDim, t.negative},
		{"label_anchor", labelDim, t.labelAnchor},
		{"label_positive", labelDim, t.labelPos},
		{"label_negative", labelDim, t.labelNegative},
	}
	for _, b := range buckets {
		if err := tripletnet.WriteBoltBucket(db, b.name, b.dim, b.samples); err != nil {
			log.Fatalf("Failed to write bucket %s: error='%s'\n", b.name, err)
		}
	}
	log.Printf("Loaded %d triplets into the database\n", len(t.anchor))
}

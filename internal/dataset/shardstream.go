package dataset

import (
	"archive/tar"
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Sample is one reconstruction example from a shard: a normalized input
// slice, its reference target, and the statistics to undo the normalization.
type Sample struct {
	Key       string
	Input     []float32
	Target    []float32
	Mean      float32
	Std       float32
	VolumeMax float32
}

// ErrPendingOverflow indicates the record pairing map exceeded the configured
// bound, usually a sign of a corrupt or interleaved shard.
var ErrPendingOverflow = errors.New("dataset: pending record buffer exceeded")

const defaultPendingCap = 1024

// StreamShard streams paired samples from the shard at path. Each example is
// stored as three tar entries sharing a key: <key>.img and <key>.tgt with
// little-endian float32 planes, and <key>.meta with "mean std volume_max".
func StreamShard(ctx context.Context, path string, pendingCap int) (<-chan Sample, <-chan error) {
	if pendingCap <= 0 {
		pendingCap = defaultPendingCap
	}
	out := make(chan Sample)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		f, err := os.Open(path)
		if err != nil {
			errCh <- fmt.Errorf("open shard: %w", err)
			return
		}
		defer f.Close()

		tr := tar.NewReader(bufio.NewReader(f))
		pending := make(map[string]*partial)

		for {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			default:
			}

			hdr, err := tr.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				errCh <- fmt.Errorf("read tar: %w", err)
				return
			}
			if hdr.FileInfo().IsDir() {
				continue
			}
			name := filepath.Base(hdr.Name)
			ext := strings.ToLower(filepath.Ext(name))
			key := strings.TrimSuffix(name, ext)

			switch ext {
			case ".img", ".tgt":
				plane, err := readPlane(tr)
				if err != nil {
					errCh <- fmt.Errorf("read plane %s: %w", name, err)
					return
				}
				part := pending[key]
				if part == nil {
					part = &partial{}
					pending[key] = part
				}
				if ext == ".img" {
					part.input = plane
				} else {
					part.target = plane
				}
			case ".meta":
				payload, err := io.ReadAll(tr)
				if err != nil {
					errCh <- fmt.Errorf("read meta %s: %w", name, err)
					return
				}
				meta, err := parseMeta(string(payload))
				if err != nil {
					errCh <- fmt.Errorf("parse meta %s: %w", name, err)
					return
				}
				part := pending[key]
				if part == nil {
					part = &partial{}
					pending[key] = part
				}
				part.meta = meta
			default:
				// ignore unknown extension
				continue
			}

			if len(pending) > pendingCap {
				errCh <- ErrPendingOverflow
				return
			}

			if part := pending[key]; part != nil && part.ready() {
				sample := Sample{
					Key:       key,
					Input:     part.input,
					Target:    part.target,
					Mean:      part.meta.mean,
					Std:       part.meta.std,
					VolumeMax: part.meta.volumeMax,
				}
				delete(pending, key)

				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case out <- sample:
				}
			}
		}

		if len(pending) > 0 {
			errCh <- fmt.Errorf("%d samples incomplete", len(pending))
		}
	}()

	return out, errCh
}

type sampleMeta struct {
	mean      float32
	std       float32
	volumeMax float32
}

type partial struct {
	input  []float32
	target []float32
	meta   *sampleMeta
}

func (p *partial) ready() bool {
	return len(p.input) > 0 && len(p.target) > 0 && p.meta != nil
}

func readPlane(r io.Reader) ([]float32, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(raw) != SliceSize*4 {
		return nil, fmt.Errorf("plane has %d bytes, want %d", len(raw), SliceSize*4)
	}
	plane := make([]float32, SliceSize)
	for i := range plane {
		bits := binary.LittleEndian.Uint32(raw[i*4:])
		plane[i] = math.Float32frombits(bits)
	}
	return plane, nil
}

func parseMeta(s string) (*sampleMeta, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) != 3 {
		return nil, fmt.Errorf("meta has %d fields, want 3", len(fields))
	}
	vals := make([]float32, 3)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, err
		}
		vals[i] = float32(v)
	}
	return &sampleMeta{mean: vals[0], std: vals[1], volumeMax: vals[2]}, nil
}

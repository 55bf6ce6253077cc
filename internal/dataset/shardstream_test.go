package dataset

import (
	"archive/tar"
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// mustShard writes a shard whose samples are constant planes: the input plane
// of sample key k holds fill(k), the target holds fill(k)+0.5.
func mustShard(t *testing.T, path string, keys []string, fill func(key string) float32) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create shard: %v", err)
	}
	defer f.Close()

	tw := tar.NewWriter(f)
	writeEntry := func(name string, payload []byte) {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(payload))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header %s: %v", name, err)
		}
		if _, err := tw.Write(payload); err != nil {
			t.Fatalf("write payload %s: %v", name, err)
		}
	}
	plane := func(v float32) []byte {
		raw := make([]byte, SliceSize*4)
		for i := 0; i < SliceSize; i++ {
			binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
		}
		return raw
	}
	for _, key := range keys {
		v := fill(key)
		writeEntry(key+".img", plane(v))
		writeEntry(key+".tgt", plane(v+0.5))
		writeEntry(key+".meta", []byte("0.0 1.0 1.0\n"))
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
}

func TestStreamShard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard-000000.tar")
	mustShard(t, path, []string{"a", "b"}, func(key string) float32 {
		if key == "a" {
			return 1
		}
		return 2
	})

	samples, errCh := StreamShard(context.Background(), path, 0)
	var got []Sample
	for s := range samples {
		got = append(got, s)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if got[0].Key != "a" || got[1].Key != "b" {
		t.Fatalf("unexpected keys: %s, %s", got[0].Key, got[1].Key)
	}
	if got[0].Input[0] != 1 || got[0].Target[0] != 1.5 {
		t.Fatalf("sample a planes wrong: input %g target %g", got[0].Input[0], got[0].Target[0])
	}
	if got[1].Mean != 0 || got[1].Std != 1 || got[1].VolumeMax != 1 {
		t.Fatalf("sample b meta wrong: %+v", got[1])
	}
}

func TestStreamShardIncompleteSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard-000000.tar")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	tw := tar.NewWriter(f)
	payload := []byte("0.0 1.0 1.0")
	hdr := &tar.Header{Name: "orphan.meta", Mode: 0o644, Size: int64(len(payload))}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatalf("header: %v", err)
	}
	if _, err := tw.Write(payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	f.Close()

	samples, errCh := StreamShard(context.Background(), path, 0)
	for range samples {
	}
	if err := <-errCh; err == nil {
		t.Fatal("expected error for incomplete sample")
	}
}

func TestParseMeta(t *testing.T) {
	meta, err := parseMeta(" 1.5  2.25 4.0 \n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if meta.mean != 1.5 || meta.std != 2.25 || meta.volumeMax != 4 {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	if _, err := parseMeta("1.0 2.0"); err == nil {
		t.Fatal("expected error for short meta")
	}
}

package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quietpanel/masker/pkg/pcm"
)

func writeRaw(t *testing.T, samples []float32) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ambient.raw")
	if err := os.WriteFile(path, pcm.EncodeS16LE(samples, nil), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPlaybackBlocks(t *testing.T) {
	samples := make([]float32, 128)
	for i := range samples {
		samples[i] = 0.25
	}
	src, err := NewFileSource(writeRaw(t, samples), time.Millisecond, true)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan *pcm.Block)
	done := make(chan error, 1)
	go func() {
		done <- src.Start(ctx, 16000, 64, ch)
	}()

	// The 128-sample file loops, so more than two blocks must arrive.
	for i := 0; i < 4; i++ {
		select {
		case blk := <-ch:
			if len(blk.Data) != 64 {
				t.Fatalf("block %d has %d samples, want 64", i, len(blk.Data))
			}
			for j, v := range blk.Data {
				if v < 0.24 || v > 0.26 {
					t.Fatalf("block %d sample %d = %v, want ~0.25", i, j, v)
				}
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for playback block")
		}
	}
	cancel()
	<-done
}

// A file whose length is not a multiple of the block size must still
// produce full blocks: the tail of the file is topped up from the start
// on the loop wrap.
func TestLoopWrapFillsBlock(t *testing.T) {
	samples := make([]float32, 96)
	for i := range samples {
		samples[i] = float32(i) / 1000
	}
	src, err := NewFileSource(writeRaw(t, samples), time.Millisecond, true)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan *pcm.Block)
	done := make(chan error, 1)
	go func() {
		done <- src.Start(ctx, 16000, 64, ch)
	}()

	// Block 2 spans the wrap: samples 64..95 followed by samples 0..31.
	want := func(block, idx int) float32 {
		return samples[(block*64+idx)%96]
	}
	for i := 0; i < 3; i++ {
		select {
		case blk := <-ch:
			if len(blk.Data) != 64 {
				t.Fatalf("block %d has %d samples, want exactly 64", i, len(blk.Data))
			}
			for j, v := range blk.Data {
				if diff := v - want(i, j); diff < -1e-3 || diff > 1e-3 {
					t.Fatalf("block %d sample %d = %v, want %v", i, j, v, want(i, j))
				}
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for playback block")
		}
	}
	cancel()
	<-done
}

func TestMissingFile(t *testing.T) {
	if _, err := NewFileSource("does-not-exist.raw", time.Millisecond, false); err == nil {
		t.Fatal("NewFileSource() on missing file, want error")
	}
}

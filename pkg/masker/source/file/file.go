// Package file plays back a raw s16le capture as the ambient input,
// paced at the configured update interval.
package file

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/quietpanel/masker/pkg/pcm"
)

type FileSource struct {
	readFile    *os.File
	timeBetween time.Duration
	loop        bool
}

func NewFileSource(path string, timeBetween time.Duration, loop bool) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	return &FileSource{
		readFile:    f,
		timeBetween: timeBetween,
		loop:        loop,
	}, nil
}

func (f *FileSource) Start(ctx context.Context, sampleRate, blockSize int, blocks chan<- *pcm.Block) error {
	tick := time.NewTicker(f.timeBetween)
	defer tick.Stop()

	raw := make([]byte, blockSize*2)
	seq := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			// Blocks always carry exactly blockSize samples, so on a
			// loop wrap keep reading from the start of the file until
			// the buffer is full.
			n := 0
			wrapped := false
			for n < len(raw) {
				r, err := io.ReadFull(f.readFile, raw[n:])
				n += r
				if err == nil {
					break
				}
				if err != io.EOF && err != io.ErrUnexpectedEOF {
					return err
				}
				if !f.loop {
					return io.EOF
				}
				if r == 0 && wrapped {
					return fmt.Errorf("playback file is empty")
				}
				wrapped = true
				if _, err := f.readFile.Seek(0, io.SeekStart); err != nil {
					return err
				}
			}

			seq++
			blk := &pcm.Block{
				SampleRate: sampleRate,
				Seq:        seq,
				Data:       pcm.DecodeS16LE(raw, nil),
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case blocks <- blk:
			}
		}
	}
}

func (f *FileSource) Stop() error {
	return f.readFile.Close()
}

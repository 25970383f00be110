// Package filecompare implements the direct byte-compare primitive shared
// by round 2's 2-/3-file fast paths: read matching blocks from a small set
// of open files and report the first point of disagreement.
package filecompare

import (
	"bytes"
	"io"
	"os"
)

// Result reports the outcome of comparing N open files block by block.
type Result struct {
	// Equal is true only if every file read identically to a clean EOF.
	Equal bool
	// Mismatch is the index (into the files passed to Compare) of the first
	// file whose block differed from the first file's block in content or
	// length, or -1 when Equal is true.
	Mismatch int
}

// Compare reads blockSize-byte chunks from every file in files until EOF or
// a mismatch. All files must be positioned at the offset comparison should
// start from; Compare does not seek them. Returns Equal=true only if every
// file reached EOF at the same read.
func Compare(files []*os.File, blockSize int) (Result, error) {
	if len(files) < 2 {
		return Result{Equal: true, Mismatch: -1}, nil
	}

	bufs := make([][]byte, len(files))
	for i := range bufs {
		bufs[i] = make([]byte, blockSize)
	}

	for {
		var n0 int
		var err0 error
		for i, f := range files {
			n, err := io.ReadFull(f, bufs[i])
			if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
				return Result{}, err
			}
			if i == 0 {
				n0, err0 = n, err
				continue
			}
			if n != n0 {
				return Result{Equal: false, Mismatch: i}, nil
			}
			if !bytes.Equal(bufs[i][:n], bufs[0][:n0]) {
				return Result{Equal: false, Mismatch: i}, nil
			}
		}
		if err0 == io.EOF || err0 == io.ErrUnexpectedEOF {
			return Result{Equal: true, Mismatch: -1}, nil
		}
	}
}

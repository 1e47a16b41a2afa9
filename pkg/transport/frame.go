// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"encoding/binary"
	"io"

	"github.com/pingcap/errors"
	jmerrors "github.com/pingcap/jobmesh/pkg/errors"
)

const frameHeaderSize = 4

// writeFrame writes a 4-byte big endian length followed by the frame.
func writeFrame(w io.Writer, frame []byte, maxSize int) error {
	if len(frame) > maxSize {
		return jmerrors.ErrFrameTooLarge.GenWithStackByArgs(len(frame))
	}
	buf := make([]byte, frameHeaderSize+len(frame))
	binary.BigEndian.PutUint32(buf, uint32(len(frame)))
	copy(buf[frameHeaderSize:], frame)
	_, err := w.Write(buf)
	return errors.Trace(err)
}

// readFrame reads one frame written by writeFrame.
func readFrame(r io.Reader, maxSize int) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, errors.Trace(err)
	}
	size := int(binary.BigEndian.Uint32(header[:]))
	if size > maxSize {
		return nil, jmerrors.ErrFrameTooLarge.GenWithStackByArgs(size)
	}
	frame := make([]byte, size)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, errors.Trace(err)
	}
	return frame, nil
}

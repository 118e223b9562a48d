// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package buffer provides the fixed capacity byte buffers owned by a channel.
//
// A Buffer is split into three regions by its read and write index:
//
//	| consumed | pending | free |
//	0          r         w      cap
//
// A socket fills the free region via Available and Commit, while a consumer drains the pending region via Bytes and
// Consume. Consumed space is reclaimed either automatically, when nothing is pending anymore, or by Compact.
package buffer

import (
	"errors"
	"fmt"
)

// ErrNoSpace is returned by Write if the data does not fit into the free region, even after compacting.
var ErrNoSpace = errors.New("buffer: insufficient free space")

// Buffer of a fixed capacity. Its backing array is allocated once and never resized.
type Buffer struct {
	data []byte

	readIndex  int
	writeIndex int
}

// New Buffer of the given capacity in bytes.
func New(capacity int) *Buffer {
	if capacity < 0 {
		panic(fmt.Sprintf("buffer: negative capacity %d", capacity))
	}
	return &Buffer{data: make([]byte, capacity)}
}

// Cap is the Buffer's fixed capacity.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Len is the amount of pending bytes, written but not yet consumed.
func (b *Buffer) Len() int {
	return b.writeIndex - b.readIndex
}

// Free is the amount of bytes which can be written before reaching the capacity.
func (b *Buffer) Free() int {
	return len(b.data) - b.writeIndex
}

// Bytes is a view of the pending region. It is valid until the next modifying call.
func (b *Buffer) Bytes() []byte {
	return b.data[b.readIndex:b.writeIndex]
}

// Available is a view of the free region, to be filled directly and followed by Commit.
func (b *Buffer) Available() []byte {
	return b.data[b.writeIndex:]
}

// Commit n bytes previously written into Available.
func (b *Buffer) Commit(n int) {
	if n < 0 || n > b.Free() {
		panic(fmt.Sprintf("buffer: commit of %d bytes exceeds %d free bytes", n, b.Free()))
	}
	b.writeIndex += n
}

// Consume n pending bytes. If no pending bytes are left, both indices are reset and the whole capacity is free again.
func (b *Buffer) Consume(n int) {
	if n < 0 || n > b.Len() {
		panic(fmt.Sprintf("buffer: consume of %d bytes exceeds %d pending bytes", n, b.Len()))
	}
	b.readIndex += n
	if b.readIndex == b.writeIndex {
		b.readIndex, b.writeIndex = 0, 0
	}
}

// Compact moves the pending region to the front, making the consumed region free space again.
func (b *Buffer) Compact() {
	if b.readIndex == 0 {
		return
	}
	n := copy(b.data, b.data[b.readIndex:b.writeIndex])
	b.readIndex, b.writeIndex = 0, n
}

// Reset drops all pending data.
func (b *Buffer) Reset() {
	b.readIndex, b.writeIndex = 0, 0
}

// Write p completely or not at all. The Buffer is compacted if p does not fit into the free region otherwise.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) > b.Free() {
		b.Compact()
	}
	if len(p) > b.Free() {
		return 0, ErrNoSpace
	}
	n := copy(b.data[b.writeIndex:], p)
	b.writeIndex += n
	return n, nil
}

func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer(cap=%d, pending=%d, free=%d)", b.Cap(), b.Len(), b.Free())
}

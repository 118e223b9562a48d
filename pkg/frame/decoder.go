// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package frame

import (
	"bytes"
	"fmt"

	"github.com/dtn7/cboring"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/sockpipe/pkg/pipeline"
)

// PayloadFunc is called for each received frame's payload. The payload is only valid during the call.
type PayloadFunc func(src pipeline.Source, payload []byte) error

// Decoder extracts frames from a channel's inbound buffer. It implements pipeline.Listener.
type Decoder struct {
	payload PayloadFunc
}

// NewDecoder which passes each non-empty payload to the PayloadFunc.
func NewDecoder(payload PayloadFunc) *Decoder {
	return &Decoder{payload: payload}
}

// Handle DataReceived events by consuming every complete frame. Incomplete frames stay pending in the compacted buffer.
func (d *Decoder) Handle(e pipeline.Event) error {
	if e.Type != pipeline.DataReceived {
		return nil
	}

	in := e.Source.Inbound()
	defer in.Compact()

	for in.Len() > 0 {
		data := in.Bytes()

		hdrLen, err := headerLen(data[0])
		if err != nil {
			return err
		} else if len(data) < hdrLen {
			return nil
		}

		payloadLen, err := cboring.ReadByteStringLen(bytes.NewReader(data[:hdrLen]))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedHeader, err)
		}

		if payloadLen > uint64(in.Cap()-hdrLen) {
			return fmt.Errorf("%w: %d bytes payload, capacity %d", ErrFrameTooLarge, payloadLen, in.Cap())
		}

		frameLen := hdrLen + int(payloadLen)
		if len(data) < frameLen {
			return nil
		}

		if payloadLen == 0 {
			log.WithField("peer", e.Source.Identity()).Debug("Received keepalive frame")
		} else if err := d.payload(e.Source, data[hdrLen:frameLen]); err != nil {
			return err
		}

		in.Consume(frameLen)
	}

	return nil
}

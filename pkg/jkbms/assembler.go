// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jkbms

import "bytes"

// StepResult is the outcome of one reassembly step.
// Buffer must be passed back on the next call. Message is nil until a
// complete response has been framed.
type StepResult struct {
	Buffer    []byte
	Message   []byte
	Discarded int  // bytes dropped while resynchronizing
	Reset     bool // no response header anywhere, buffer cleared
}

// Step appends chunk to buffer and extracts at most one complete response.
//
// Responses carry no length prefix, so a response is complete once another
// message has started after it. Bytes before the first response header are
// dropped; a buffer without any response header is cleared. Step never
// fails and never modifies its inputs.
func Step(buffer, chunk []byte) StepResult {
	combined := make([]byte, 0, len(buffer)+len(chunk))
	combined = append(combined, buffer...)
	combined = append(combined, chunk...)

	// A message cannot be framed and terminated in fewer bytes
	if len(combined) < HeaderSize+2 {
		return StepResult{Buffer: combined}
	}

	discarded := 0
	if !bytes.HasPrefix(combined, ResponseHeader[:]) {
		pos := bytes.Index(combined, ResponseHeader[:])
		if pos < 0 {
			return StepResult{Discarded: len(combined), Reset: true}
		}
		discarded = pos
		combined = combined[pos:]
	}

	offset := 0
	for _, span := range SplitMessages(combined) {
		end := offset + len(span)
		if len(span) >= HeaderSize && Classify(span).IsResponse() && end < len(combined) {
			return StepResult{
				Buffer:    combined[end:],
				Message:   span,
				Discarded: discarded,
			}
		}
		offset = end
	}

	return StepResult{Buffer: combined, Discarded: discarded}
}

// DrainResult is the outcome of stepping a buffer until nothing completes
type DrainResult struct {
	Buffer    []byte
	Messages  [][]byte
	Discarded int
	Resets    int
}

// Drain appends chunk to buffer and steps until no further message completes.
// Messages are returned in wire order.
func Drain(buffer, chunk []byte) DrainResult {
	var out DrainResult
	res := Step(buffer, chunk)
	for {
		out.Buffer = res.Buffer
		out.Discarded += res.Discarded
		if res.Reset {
			out.Resets++
		}
		if res.Message == nil {
			return out
		}
		out.Messages = append(out.Messages, res.Message)
		res = Step(out.Buffer, nil)
	}
}

// Assembler holds the reassembly buffer of a single connection.
// It is not safe for concurrent use.
type Assembler struct {
	buffer    []byte
	discarded uint64
	resets    uint64
}

// NewAssembler creates an empty assembler
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Feed processes one notification fragment.
// Returns every message completed by it (usually zero or one).
func (a *Assembler) Feed(chunk []byte) [][]byte {
	r := Drain(a.buffer, chunk)
	a.buffer = r.Buffer
	a.discarded += uint64(r.Discarded)
	a.resets += uint64(r.Resets)
	return r.Messages
}

// Flush ends the current session.
// The buffer is always cleared. A buffered response of at least a full frame
// is returned since no following header will ever terminate it. Bytes trailing
// a checksum-valid full frame (a partial next header) are counted as discarded.
func (a *Assembler) Flush() ([]byte, bool) {
	buf := a.buffer
	a.buffer = nil
	if len(buf) >= ResponseFrameLen && Classify(buf).IsResponse() {
		if len(buf) > ResponseFrameLen && ValidateResponse(buf[:ResponseFrameLen]) {
			a.discarded += uint64(len(buf) - ResponseFrameLen)
			return buf[:ResponseFrameLen], true
		}
		return buf, true
	}
	if len(buf) > 0 {
		a.discarded += uint64(len(buf))
	}
	return nil, false
}

// Buffered returns the number of bytes awaiting completion
func (a *Assembler) Buffered() int {
	return len(a.buffer)
}

// Bytes returns the pending buffer
func (a *Assembler) Bytes() []byte {
	return a.buffer
}

// Discarded returns the total number of bytes dropped during resync or flush
func (a *Assembler) Discarded() uint64 {
	return a.discarded
}

// Resets returns how many times the buffer was cleared for lack of a header
func (a *Assembler) Resets() uint64 {
	return a.resets
}

// Reset clears the buffer and counters
func (a *Assembler) Reset() {
	a.buffer = nil
	a.discarded = 0
	a.resets = 0
}

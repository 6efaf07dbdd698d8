// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jkbms

import (
	"bytes"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// fragment splits data into random chunks of 1..maxChunk bytes
func fragment(rng *rand.Rand, data []byte, maxChunk int) [][]byte {
	var chunks [][]byte
	for len(data) > 0 {
		n := 1 + rng.Intn(maxChunk)
		if n > len(data) {
			n = len(data)
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}

// ============================================================
// Assembler Fuzz Tests
// ============================================================

func TestFuzzAssembler_RandomFragmentation(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	frames := [][]byte{
		mustEncodeDeviceInfo(t, sampleDeviceInfo()),
		mustEncodeCellData(t, sampleCellData()),
	}

	for i := 0; i < rounds; i++ {
		count := 1 + rng.Intn(5)
		var stream []byte
		var want [][]byte
		for j := 0; j < count; j++ {
			f := frames[rng.Intn(len(frames))]
			stream = append(stream, f...)
			want = append(want, f)
		}
		stream = append(stream, ResponseHeader[:]...)

		a := NewAssembler()
		var got [][]byte
		for _, chunk := range fragment(rng, stream, 244) {
			got = append(got, a.Feed(chunk)...)
		}

		if len(got) != len(want) {
			t.Fatalf("round %d: expected %d messages, got %d", i, len(want), len(got))
		}
		for j := range want {
			if !bytes.Equal(got[j], want[j]) {
				t.Fatalf("round %d: message %d differs", i, j)
			}
		}
	}
}

func TestFuzzAssembler_RandomBytes(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		data := make([]byte, rng.Intn(1024))
		rng.Read(data)

		// Sprinkle headers so the resync paths get exercised
		for k := rng.Intn(4); k > 0 && len(data) > HeaderSize; k-- {
			pos := rng.Intn(len(data) - HeaderSize)
			if rng.Intn(2) == 0 {
				copy(data[pos:], ResponseHeader[:])
			} else {
				copy(data[pos:], RequestHeader[:])
			}
		}

		a := NewAssembler()
		for _, chunk := range fragment(rng, data, 64) {
			for _, msg := range a.Feed(chunk) {
				if !Classify(msg).IsResponse() {
					t.Fatalf("round %d: emitted message without response header: % X", i, msg)
				}
				// Parsing must never panic on arbitrary framed bytes
				_, _ = ParseMessage(msg)
				_ = ValidateMessage(msg)
			}
		}
		a.Flush()
		if a.Buffered() != 0 {
			t.Fatalf("round %d: Flush left %d bytes", i, a.Buffered())
		}
	}
}

// ============================================================
// Decoder Fuzz Tests
// ============================================================

func TestFuzzDecoders_RandomPayload(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		payload := make([]byte, rng.Intn(ResponseFrameLen+16))
		rng.Read(payload)
		if len(payload) > offsetRecordType {
			copy(payload, ResponseHeader[:])
			payload[offsetRecordType] = uint8(1 + rng.Intn(3))
		}

		// Must not panic
		_, _ = DecodeDeviceInfo(payload)
		_, _ = DecodeCellData(payload)
		_, _ = ParseMessage(payload)
	}
}

func TestFuzzCellData_RoundTrip(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		n := rng.Intn(MaxCells + 1)
		c := sampleCellData()
		c.CellVoltage = make([]float64, n)
		c.CellResistance = make([]float64, n)
		for j := 0; j < n; j++ {
			c.CellVoltage[j] = float64(rng.Intn(5000)) / scaleMilli
			c.CellResistance[j] = float64(rng.Intn(1000)) / scaleMilli
		}
		c.BatteryCurrent = float64(rng.Intn(400000)-200000) / scaleMilli
		for j := range c.BatteryTemperature {
			c.BatteryTemperature[j] = float64(rng.Intn(1200)-400) / scaleDeci
		}
		c.RemainPercent = uint8(rng.Intn(101))

		frame := mustEncodeCellData(t, c)
		got, err := DecodeCellData(frame[:len(frame)-1])
		if err != nil {
			t.Fatalf("round %d: decode failed: %v", i, err)
		}
		if !floatsEqual(got.CellVoltage, c.CellVoltage) || !floatsEqual(got.CellResistance, c.CellResistance) {
			t.Fatalf("round %d: cell values differ", i)
		}
		if !floatsEqual(got.BatteryTemperature, c.BatteryTemperature) {
			t.Fatalf("round %d: temperatures differ", i)
		}
		if got.BatteryCurrent != c.BatteryCurrent || got.RemainPercent != c.RemainPercent {
			t.Fatalf("round %d: scalars differ", i)
		}
	}
}

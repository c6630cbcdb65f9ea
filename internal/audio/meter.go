package audio

import (
	"encoding/binary"
	"math"
)

// MeterFloorDB is the level reported for silence.
const MeterFloorDB = -96.0

// RMS returns the root-mean-square of a PCM buffer, normalized to [0, 1].
func RMS(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(pcm)))
}

// DBFS converts a normalized RMS value to decibels relative to full scale,
// clamped at MeterFloorDB.
func DBFS(rms float64) float64 {
	if rms <= 0 {
		return MeterFloorDB
	}
	db := 20 * math.Log10(rms)
	if db < MeterFloorDB {
		return MeterFloorDB
	}
	return db
}

// Bytes encodes PCM samples as little-endian for the recognizer stream.
func Bytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

package capture

import (
	"encoding/binary"
	"io"
)

const wavHeaderSize = 44

// wavHeader renders a canonical PCM WAV header for the given data length.
func wavHeader(dataLen int, sampleRate int, channels int) []byte {
	if channels <= 0 {
		channels = 1
	}
	const bitsPerSample = 16
	byteRate := sampleRate * channels * (bitsPerSample / 8)
	blockAlign := channels * (bitsPerSample / 8)

	header := make([]byte, wavHeaderSize)
	copy(header[0:4], []byte("RIFF"))
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataLen))
	copy(header[8:12], []byte("WAVE"))
	copy(header[12:16], []byte("fmt "))
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], []byte("data"))
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataLen))
	return header
}

// patchWAVHeader rewrites the header of an already-written artifact once the
// final PCM length is known.
func patchWAVHeader(ws io.WriteSeeker, dataLen int, sampleRate int, channels int) error {
	if _, err := ws.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err := ws.Write(wavHeader(dataLen, sampleRate, channels))
	return err
}

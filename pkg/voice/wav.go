package voice

import "encoding/binary"

const (
	// MicSampleRate is the capture rate of the microphone pipeline.
	MicSampleRate = 16000

	pcmBytesPerSample = 2
	wavHeaderSize     = 44
)

// EncodeWAV wraps raw mono 16-bit little-endian PCM in a WAV container so it
// can be posted to transcription endpoints that reject bare PCM.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	byteRate := sampleRate * pcmBytesPerSample
	out := make([]byte, wavHeaderSize+len(pcm))

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16) // PCM chunk size
	binary.LittleEndian.PutUint16(out[20:22], 1)  // PCM format
	binary.LittleEndian.PutUint16(out[22:24], 1)  // mono
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], pcmBytesPerSample) // block align
	binary.LittleEndian.PutUint16(out[34:36], 16)                // bits per sample

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[wavHeaderSize:], pcm)
	return out
}

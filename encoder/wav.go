package encoder

import "encoding/binary"

const wavHeaderSize = 44

// WAVEncoder wraps PCM16 samples in a RIFF container. The header is written
// on Close, once the data length is known.
type WAVEncoder struct {
	data        []byte
	totalFrames uint64
	closed      bool
}

func NewWAV() *WAVEncoder {
	return &WAVEncoder{data: make([]byte, wavHeaderSize)}
}

func (e *WAVEncoder) EncodeBlock(block []int16) error {
	off := len(e.data)
	e.data = append(e.data, make([]byte, len(block)*2)...)
	for i, s := range block {
		binary.LittleEndian.PutUint16(e.data[off+i*2:], uint16(s))
	}
	e.totalFrames += uint64(len(block))
	return nil
}

func (e *WAVEncoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	dataSize := len(e.data) - wavHeaderSize
	buf := e.data
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(wavHeaderSize-8+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], Channels)
	binary.LittleEndian.PutUint32(buf[24:28], SampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], SampleRate*Channels*(BitsPerSample/8))
	binary.LittleEndian.PutUint16(buf[32:34], Channels*(BitsPerSample/8)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], BitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	return nil
}

func (e *WAVEncoder) Bytes() []byte {
	return e.data
}

func (e *WAVEncoder) TotalFrames() uint64 {
	return e.totalFrames
}

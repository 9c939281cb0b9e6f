package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRectBgrX32StrideAligned(t *testing.T) {
	bgra := make([]byte, 4*4*4) // 4x4 BGRA
	dst, stride, err := EncodeRect(bgra, 4, 4, 0, 0, 4, 4, BgrX32)
	require.NoError(t, err)
	assert.Equal(t, uint32(64), stride)
	assert.Len(t, dst, int(stride)*4)
}

func TestEncodeRectRgb565Packing(t *testing.T) {
	bgra := []byte{0, 0, 255, 255} // single pure-red BGRA pixel
	dst, stride, err := EncodeRect(bgra, 1, 1, 0, 0, 1, 1, Rgb16)
	require.NoError(t, err)
	assert.Equal(t, uint32(64), stride)
	v := uint16(dst[0]) | uint16(dst[1])<<8
	assert.Equal(t, uint16(0xF800), v) // top 5 bits of red channel
}

func TestEncodeRectOutOfBounds(t *testing.T) {
	bgra := make([]byte, 4*4*4)
	_, _, err := EncodeRect(bgra, 4, 4, 2, 2, 4, 4, BgrX32)
	require.Error(t, err)
}

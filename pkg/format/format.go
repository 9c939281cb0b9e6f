// Package format identifies pixel formats, computes their strides and
// plane layouts, and converts YUV variants to BGRA using the BT.601
// limited-range color matrix.
package format

import (
	"fmt"

	"github.com/lamco-desktop/wlcast/pkg/wlerr"
)

// PixelFormat tags the layout of a captured frame's pixel data.
type PixelFormat int

const (
	BGRA PixelFormat = iota
	BGRx
	RGBA
	RGBx
	RGB  // 24-bit
	BGR  // 24-bit
	NV12 // 4:2:0 semiplanar
	I420 // 4:2:0 planar
	YUY2 // 4:2:2 packed
)

func (f PixelFormat) String() string {
	switch f {
	case BGRA:
		return "BGRA"
	case BGRx:
		return "BGRx"
	case RGBA:
		return "RGBA"
	case RGBx:
		return "RGBx"
	case RGB:
		return "RGB"
	case BGR:
		return "BGR"
	case NV12:
		return "NV12"
	case I420:
		return "I420"
	case YUY2:
		return "YUY2"
	default:
		return "unknown"
	}
}

// IsYUV reports whether the format requires conversion before it can be
// treated as BGRA.
func (f PixelFormat) IsYUV() bool {
	switch f {
	case NV12, I420, YUY2:
		return true
	default:
		return false
	}
}

// BytesPerPixel returns bytes-per-pixel for packed formats. Planar and
// semiplanar formats (NV12, I420) have no single per-pixel stride and
// return 0, false.
func BytesPerPixel(f PixelFormat) (uint8, bool) {
	switch f {
	case BGRA, RGBA, BGRx, RGBx:
		return 4, true
	case RGB, BGR:
		return 3, true
	case YUY2:
		return 2, true // packed macropixel average
	default:
		return 0, false
	}
}

// RdpPixelFormat is an output pixel format accepted by the downstream
// RDP bitmap sink.
type RdpPixelFormat int

const (
	BgrX32 RdpPixelFormat = iota // 4 bpp
	Bgr24                        // 3 bpp
	Rgb16                        // 2 bpp, 5:6:5
	Rgb15                        // 2 bpp, 5:5:5
)

// BytesPerPixel returns the RDP output format's fixed pixel width.
func (f RdpPixelFormat) BytesPerPixel() uint8 {
	switch f {
	case BgrX32:
		return 4
	case Bgr24:
		return 3
	case Rgb16, Rgb15:
		return 2
	default:
		return 0
	}
}

// BT.601 limited-range integer coefficients, scaled by 256.
const (
	yScale = 298 // 1.164 * 256
	vToR   = 409 // 1.596 * 256
	uToG   = 100 // 0.391 * 256
	vToG   = 208 // 0.813 * 256
	uToB   = 516 // 2.018 * 256
)

func clamp8(v int32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// yuvToRGB converts one BT.601 limited-range YUV sample to RGB.
func yuvToRGB(y, u, v int32) (r, g, b uint8) {
	y -= 16
	u -= 128
	v -= 128

	r32 := (yScale*y + vToR*v + 128) >> 8
	g32 := (yScale*y - uToG*u - vToG*v + 128) >> 8
	b32 := (yScale*y + uToB*u + 128) >> 8

	return clamp8(r32), clamp8(g32), clamp8(b32)
}

// ConvertToBGRA converts src from the given YUV format to BGRA. It
// returns wlerr.KindUnsupportedFormat for non-YUV formats (callers
// should treat BGRA-family frames as already suitable, a no-op),
// wlerr.KindInvalidParameter for zero/odd dimensions, and
// wlerr.KindBufferTooSmall when src is shorter than the format's plane
// sum requires.
func ConvertToBGRA(src []byte, width, height uint32, f PixelFormat) ([]byte, error) {
	switch f {
	case NV12:
		return nv12ToBGRA(src, width, height)
	case I420:
		return i420ToBGRA(src, width, height)
	case YUY2:
		return yuy2ToBGRA(src, width, height)
	default:
		return nil, wlerr.New(wlerr.KindUnsupportedFormat, "convert_to_bgra", fmt.Errorf("format %s is not YUV", f))
	}
}

func checkDims(width, height uint32) error {
	if width == 0 || height == 0 {
		return wlerr.New(wlerr.KindInvalidParameter, "convert_to_bgra", fmt.Errorf("invalid dimensions %dx%d", width, height))
	}
	if width%2 != 0 || height%2 != 0 {
		return wlerr.New(wlerr.KindInvalidParameter, "convert_to_bgra", fmt.Errorf("odd dimensions %dx%d not supported for YUV", width, height))
	}
	return nil
}

func nv12ToBGRA(src []byte, width, height uint32) ([]byte, error) {
	if err := checkDims(width, height); err != nil {
		return nil, err
	}
	w, h := int(width), int(height)
	yPlaneSize := w * h
	uvPlaneSize := w * h / 2
	if len(src) < yPlaneSize+uvPlaneSize {
		return nil, wlerr.New(wlerr.KindBufferTooSmall, "convert_to_bgra", fmt.Errorf("nv12: need %d, got %d", yPlaneSize+uvPlaneSize, len(src)))
	}

	yPlane := src[:yPlaneSize]
	uvPlane := src[yPlaneSize : yPlaneSize+uvPlaneSize]
	dst := make([]byte, w*h*4)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			yIdx := y*w + x
			uvIdx := (y/2)*w + (x/2)*2

			r, g, b := yuvToRGB(int32(yPlane[yIdx]), int32(uvPlane[uvIdx]), int32(uvPlane[uvIdx+1]))

			d := yIdx * 4
			dst[d] = b
			dst[d+1] = g
			dst[d+2] = r
			dst[d+3] = 255
		}
	}
	return dst, nil
}

func i420ToBGRA(src []byte, width, height uint32) ([]byte, error) {
	if err := checkDims(width, height); err != nil {
		return nil, err
	}
	w, h := int(width), int(height)
	yPlaneSize := w * h
	uvPlaneSize := (w / 2) * (h / 2)
	if len(src) < yPlaneSize+uvPlaneSize*2 {
		return nil, wlerr.New(wlerr.KindBufferTooSmall, "convert_to_bgra", fmt.Errorf("i420: need %d, got %d", yPlaneSize+uvPlaneSize*2, len(src)))
	}

	yPlane := src[:yPlaneSize]
	uPlane := src[yPlaneSize : yPlaneSize+uvPlaneSize]
	vPlane := src[yPlaneSize+uvPlaneSize : yPlaneSize+uvPlaneSize*2]
	dst := make([]byte, w*h*4)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			yIdx := y*w + x
			uvIdx := (y/2)*(w/2) + (x / 2)

			r, g, b := yuvToRGB(int32(yPlane[yIdx]), int32(uPlane[uvIdx]), int32(vPlane[uvIdx]))

			d := yIdx * 4
			dst[d] = b
			dst[d+1] = g
			dst[d+2] = r
			dst[d+3] = 255
		}
	}
	return dst, nil
}

func yuy2ToBGRA(src []byte, width, height uint32) ([]byte, error) {
	if err := checkDims(width, height); err != nil {
		return nil, err
	}
	w, h := int(width), int(height)
	if len(src) < w*h*2 {
		return nil, wlerr.New(wlerr.KindBufferTooSmall, "convert_to_bgra", fmt.Errorf("yuy2: need %d, got %d", w*h*2, len(src)))
	}

	dst := make([]byte, w*h*4)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x += 2 {
			s := (y*w + x) * 2

			y0 := int32(src[s])
			u := int32(src[s+1])
			y1 := int32(src[s+2])
			v := int32(src[s+3])

			r0, g0, b0 := yuvToRGB(y0, u, v)
			d0 := (y*w + x) * 4
			dst[d0] = b0
			dst[d0+1] = g0
			dst[d0+2] = r0
			dst[d0+3] = 255

			r1, g1, b1 := yuvToRGB(y1, u, v)
			d1 := (y*w + x + 1) * 4
			dst[d1] = b1
			dst[d1+1] = g1
			dst[d1+2] = r1
			dst[d1+3] = 255
		}
	}
	return dst, nil
}

// AlignUp64 rounds n up to the next multiple of 64, matching the RDP
// output row-stride requirement.
func AlignUp64(n uint32) uint32 {
	return (n + 63) &^ 63
}

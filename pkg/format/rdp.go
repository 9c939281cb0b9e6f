package format

import "fmt"

// EncodeRect crops a rectangle (x,y,w,h) from a full BGRA frame
// (width x height, row stride width*4) and packs it into out,
// returning the packed bytes and the row stride used (always a
// multiple of 64, per AlignUp64).
func EncodeRect(bgra []byte, width, height, x, y, w, h uint32, out RdpPixelFormat) ([]byte, uint32, error) {
	if x+w > width || y+h > height {
		return nil, 0, fmt.Errorf("rectangle (%d,%d,%d,%d) out of frame bounds %dx%d", x, y, w, h, width, height)
	}

	bpp := out.BytesPerPixel()
	stride := AlignUp64(w * uint32(bpp))
	dst := make([]byte, stride*h)

	srcStride := width * 4

	for row := uint32(0); row < h; row++ {
		srcRowStart := (y+row)*srcStride + x*4
		dstRowStart := row * stride

		for col := uint32(0); col < w; col++ {
			s := srcRowStart + col*4
			b, g, r := bgra[s], bgra[s+1], bgra[s+2]

			d := dstRowStart + col*uint32(bpp)
			switch out {
			case BgrX32:
				dst[d] = b
				dst[d+1] = g
				dst[d+2] = r
				dst[d+3] = 0xFF
			case Bgr24:
				dst[d] = b
				dst[d+1] = g
				dst[d+2] = r
			case Rgb16:
				v := pack565(r, g, b)
				dst[d] = byte(v)
				dst[d+1] = byte(v >> 8)
			case Rgb15:
				v := pack555(r, g, b)
				dst[d] = byte(v)
				dst[d+1] = byte(v >> 8)
			}
		}
	}

	return dst, stride, nil
}

func pack565(r, g, b uint8) uint16 {
	return (uint16(r>>3) << 11) | (uint16(g>>2) << 5) | uint16(b>>3)
}

func pack555(r, g, b uint8) uint16 {
	return (uint16(r>>3) << 10) | (uint16(g>>3) << 5) | uint16(b>>3)
}


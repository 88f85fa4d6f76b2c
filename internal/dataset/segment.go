package dataset

// Crop flattens frames [start, start+frames) frame after frame into dst.
func Crop(u *Utterance, start, frames int, dst []float64) {
	for t := 0; t < frames; t++ {
		var frame = u.Frames[start+t]
		for k, v := range frame {
			dst[t*u.Dim+k] = float64(v)
		}
	}
}

// Segments splits the whole utterance into consecutive segments of frames
// length. The tail of the last segment is zero padded.
func Segments(u *Utterance, frames int) [][]float64 {
	var result [][]float64
	for start := 0; start < len(u.Frames); start += frames {
		var segment = make([]float64, frames*u.Dim)
		var n = min(frames, len(u.Frames)-start)
		Crop(u, start, n, segment)
		result = append(result, segment)
	}
	return result
}

// Assemble is the inverse of Segments, it drops the padding.
func Assemble(segments [][]float64, dim, totalFrames int) [][]float32 {
	var result = make([][]float32, 0, totalFrames)
	for _, segment := range segments {
		for t := 0; t*dim < len(segment) && len(result) < totalFrames; t++ {
			var frame = make([]float32, dim)
			for k := range frame {
				frame[k] = float32(segment[t*dim+k])
			}
			result = append(result, frame)
		}
	}
	return result
}

package neteq

// WSOLA (waveform similarity overlap-add) time-stretches or compresses a PCM
// frame by a small amount without perceptibly changing pitch, so NetEq can
// grow or shrink the jitter buffer by a few samples per tick instead of
// dropping/duplicating whole frames.

const (
	wsolaSearchWindow = 40 // samples to search for the best overlap offset
	wsolaOverlap      = 80 // samples overlapped during cross-fade
)

// Accelerate removes approximately targetSamples from pcm by finding a
// self-similar region and cross-fading over it, shortening the frame.
func Accelerate(pcm []int16, targetSamples int) []int16 {
	if targetSamples <= 0 || len(pcm) <= wsolaOverlap+wsolaSearchWindow {
		return pcm
	}
	if targetSamples > len(pcm)/2 {
		targetSamples = len(pcm) / 2
	}

	cut := len(pcm) - targetSamples - wsolaOverlap
	if cut < wsolaOverlap {
		return pcm
	}

	offset := bestOverlapOffset(pcm, cut, wsolaSearchWindow)
	out := make([]int16, 0, len(pcm)-targetSamples)
	out = append(out, pcm[:cut]...)
	out = append(out, crossFade(pcm[cut:cut+wsolaOverlap], pcm[cut+offset:cut+offset+wsolaOverlap])...)
	out = append(out, pcm[cut+offset+wsolaOverlap:]...)
	return out
}

// PreemptiveExpand inserts approximately targetSamples into pcm by repeating
// a self-similar region with a cross-fade, lengthening the frame.
func PreemptiveExpand(pcm []int16, targetSamples int) []int16 {
	if targetSamples <= 0 || len(pcm) <= wsolaOverlap+wsolaSearchWindow {
		return pcm
	}
	if targetSamples > len(pcm)/2 {
		targetSamples = len(pcm) / 2
	}

	splitPoint := len(pcm) / 2
	offset := bestOverlapOffset(pcm, splitPoint, wsolaSearchWindow)

	out := make([]int16, 0, len(pcm)+targetSamples)
	out = append(out, pcm[:splitPoint]...)
	inserted := pcm[splitPoint : splitPoint+targetSamples]
	out = append(out, inserted...)
	out = append(out, crossFade(pcm[splitPoint:splitPoint+wsolaOverlap], pcm[splitPoint+offset:splitPoint+offset+wsolaOverlap])...)
	out = append(out, pcm[splitPoint+offset+wsolaOverlap:]...)
	return out
}

// bestOverlapOffset searches [-window, window] around base for the offset
// that minimises the sum of squared differences against the base segment,
// i.e. the most waveform-similar alignment for a seamless cross-fade.
func bestOverlapOffset(pcm []int16, base, window int) int {
	bestOffset := 0
	bestScore := int64(1) << 62

	lo, hi := -window, window
	if base-window < 0 {
		lo = -base
	}
	if base+window+wsolaOverlap > len(pcm) {
		hi = len(pcm) - wsolaOverlap - base
	}

	for off := lo; off <= hi; off++ {
		if base+off < 0 || base+off+wsolaOverlap > len(pcm) {
			continue
		}
		var score int64
		for i := 0; i < wsolaOverlap; i++ {
			d := int64(pcm[base+i]) - int64(pcm[base+off+i])
			score += d * d
		}
		if score < bestScore {
			bestScore = score
			bestOffset = off
		}
	}
	return bestOffset
}

// crossFade linearly cross-fades a into b over their shared length.
func crossFade(a, b []int16) []int16 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		wa := float64(n-i) / float64(n)
		wb := float64(i) / float64(n)
		out[i] = int16(float64(a[i])*wa + float64(b[i])*wb)
	}
	return out
}

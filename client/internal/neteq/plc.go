package neteq

// Packet loss concealment extrapolates a missing frame from the tail of the
// previous one using a short linear predictor (LPC), fitted by the
// autocorrelation method, then fades to silence as consecutive losses
// accumulate so concealment degrades gracefully instead of looping audibly.

const (
	plcOrder       = 2  // LPC predictor order
	plcHistorySamples = 160 // samples of prior PCM used to fit the predictor
	plcMaxConsecutive = 5   // concealed frames after which output is pure silence
)

// concealer extrapolates lost frames for one sender, tracking how many
// consecutive losses have occurred so it can fade out.
type concealer struct {
	history     []int16
	consecutive int
}

func newConcealer() *concealer {
	return &concealer{}
}

// observe records a successfully decoded frame's tail as history for future
// concealment and resets the consecutive-loss counter.
func (c *concealer) observe(pcm []int16) {
	c.consecutive = 0
	if len(pcm) == 0 {
		return
	}
	tail := pcm
	if len(tail) > plcHistorySamples {
		tail = tail[len(tail)-plcHistorySamples:]
	}
	c.history = append([]int16(nil), tail...)
}

// conceal synthesizes frameLen samples to stand in for a missing frame.
func (c *concealer) conceal(frameLen int) []int16 {
	c.consecutive++
	if len(c.history) < plcOrder+1 || c.consecutive > plcMaxConsecutive {
		return make([]int16, frameLen) // silence
	}

	coeffs := fitLPC(c.history, plcOrder)
	out := make([]int16, frameLen)
	buf := append([]float64(nil), toFloat(c.history)...)

	fade := 1.0
	if c.consecutive > 1 {
		fade = 1.0 - float64(c.consecutive-1)/float64(plcMaxConsecutive)
		if fade < 0 {
			fade = 0
		}
	}

	for i := 0; i < frameLen; i++ {
		var pred float64
		n := len(buf)
		for j := 0; j < plcOrder; j++ {
			pred += coeffs[j] * buf[n-1-j]
		}
		pred *= fade
		buf = append(buf, pred)
		out[i] = clampInt16(pred)
	}

	c.history = toInt16(buf[len(buf)-plcHistorySamples:])
	return out
}

// fitLPC fits an order-p linear predictor to pcm via the autocorrelation
// method solved by Levinson-Durbin recursion.
func fitLPC(pcm []int16, order int) []float64 {
	x := toFloat(pcm)
	r := make([]float64, order+1)
	for lag := 0; lag <= order; lag++ {
		var sum float64
		for i := lag; i < len(x); i++ {
			sum += x[i] * x[i-lag]
		}
		r[lag] = sum
	}
	if r[0] == 0 {
		return make([]float64, order)
	}

	a := make([]float64, order+1)
	e := r[0]
	for i := 1; i <= order; i++ {
		acc := r[i]
		for j := 1; j < i; j++ {
			acc -= a[j] * r[i-j]
		}
		k := acc / e
		a[i] = k
		for j := 1; j < i; j++ {
			a[j] -= k * a[i-j]
		}
		// Guard against the accumulated energy term degenerating to zero on
		// near-silent or perfectly periodic history.
		if e *= 1 - k*k; e <= 0 {
			e = 1e-9
		}
	}
	return a[1:]
}

func toFloat(pcm []int16) []float64 {
	out := make([]float64, len(pcm))
	for i, v := range pcm {
		out[i] = float64(v)
	}
	return out
}

func toInt16(f []float64) []int16 {
	out := make([]int16, len(f))
	for i, v := range f {
		out[i] = clampInt16(v)
	}
	return out
}

func clampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

package voice_activity

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

// fluxDetector measures spectral flux between consecutive frames: the summed
// positive change in magnitude per frequency bin.
type fluxDetector struct {
	size     int
	hann     []float64
	previous []float64
}

func newFluxDetector(size int) *fluxDetector {
	return &fluxDetector{
		size: size,
		hann: window.Hann(size),
	}
}

func (d *fluxDetector) Flux(samples []int16) float64 {
	if len(samples) != d.size {
		d.size = len(samples)
		d.hann = window.Hann(d.size)
		d.previous = nil
	}

	x := make([]float64, d.size)
	for i, s := range samples {
		x[i] = float64(s) / math.MaxInt16 * d.hann[i]
	}

	spectrum := fft.FFTReal(x)
	bins := len(spectrum)/2 + 1

	magnitude := make([]float64, bins)
	for i := 0; i < bins; i++ {
		magnitude[i] = cmplx.Abs(spectrum[i])
	}

	if d.previous == nil {
		d.previous = magnitude
		return 0
	}

	var flux float64
	for i := 0; i < bins; i++ {
		if diff := magnitude[i] - d.previous[i]; diff > 0 {
			flux += diff
		}
	}

	d.previous = magnitude

	return flux / float64(bins)
}

func (d *fluxDetector) Reset() {
	d.previous = nil
}

// rms is the root mean square level normalised to [0,1].
func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		v := float64(s) / math.MaxInt16
		sum += v * v
	}

	return math.Sqrt(sum / float64(len(samples)))
}

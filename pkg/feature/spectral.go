package feature

import (
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"

	"github.com/machinehealth/cci/pkg"
)

// spectralFeatures computes a Welch power spectral density over the
// vibration buffer and summarizes it into the spectral feature set. The
// configured mid/high band captures oscillatory wear signatures that
// time-domain statistics miss.
func (e *Extractor) spectralFeatures() pkg.SpectralFeatures {
	st := e.channels[pkg.SensorVibration]
	fs := 1.0 / e.config.SampleInterval.Seconds()
	psd, freqs := welchPSD(st.spectral, e.config.SpectralSegment, e.config.SpectralOverlap, fs)
	if len(psd) == 0 {
		return pkg.SpectralFeatures{}
	}

	nyquist := fs / 2
	lowHz := e.config.BandLowFrac * nyquist
	highHz := e.config.BandHighFrac * nyquist
	df := fs / float64(e.config.SpectralSegment)

	var total, band, peak float64
	var peakFreq float64
	for i := 1; i < len(psd); i++ { // skip the DC bin
		p := psd[i] * df
		total += p
		if freqs[i] >= lowHz && freqs[i] <= highHz {
			band += p
		}
		if psd[i] > peak {
			peak = psd[i]
			peakFreq = freqs[i]
		}
	}

	out := pkg.SpectralFeatures{
		TotalPower: total,
		BandPower:  band,
		PeakFreqHz: peakFreq,
	}
	if total > 0 {
		out.BandRatio = band / total
	}
	return out
}

// welchPSD estimates the one-sided power spectral density of samples using
// Hann-windowed overlapping segments averaged in the frequency domain.
// Each segment is mean-detrended so slow drift does not swamp the band
// power. Returns nil when fewer samples than one segment are available.
func welchPSD(samples []float64, segment int, overlap, fs float64) (psd, freqs []float64) {
	if len(samples) < segment {
		return nil, nil
	}

	step := int(float64(segment) * (1 - overlap))
	if step < 1 {
		step = 1
	}

	hann := window.Hann(onesSlice(segment))
	var windowPower float64
	for _, w := range hann {
		windowPower += w * w
	}
	scale := 1.0 / (fs * windowPower)

	fft := fourier.NewFFT(segment)
	nBins := segment/2 + 1
	psd = make([]float64, nBins)
	buf := make([]float64, segment)
	coeffs := make([]complex128, nBins)

	segments := 0
	for start := 0; start+segment <= len(samples); start += step {
		copy(buf, samples[start:start+segment])
		floats.AddConst(-statMean(buf), buf)
		for i := range buf {
			buf[i] *= hann[i]
		}
		coeffs = fft.Coefficients(coeffs, buf)
		for i, c := range coeffs {
			p := (real(c)*real(c) + imag(c)*imag(c)) * scale
			// One-sided spectrum: interior bins carry both halves.
			if i != 0 && i != nBins-1 {
				p *= 2
			}
			psd[i] += p
		}
		segments++
	}

	for i := range psd {
		psd[i] /= float64(segments)
	}
	freqs = make([]float64, nBins)
	for i := range freqs {
		freqs[i] = fft.Freq(i) * fs
	}
	return psd, freqs
}

func onesSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = 1
	}
	return s
}

func statMean(xs []float64) float64 {
	return floats.Sum(xs) / float64(len(xs))
}

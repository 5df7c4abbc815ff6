package score

import (
	"github.com/machinehealth/cci/pkg"
)

// Classify maps a CCI onto the profile's ordered risk zones. A CCI exactly
// equal to a threshold lands in the higher zone (closed-upper convention).
// Classification is stateless: no hysteresis, no history dependence, so a
// later lower CCI legitimately reverts to a lower zone. Sticky-alert
// behavior is caller policy.
func Classify(cci float64, profile *pkg.CalibrationProfile) (pkg.Zone, error) {
	if profile == nil {
		return pkg.ZoneGreen, pkg.ErrNotCalibrated
	}
	switch {
	case cci >= profile.Thresholds[2]:
		return pkg.ZoneRed, nil
	case cci >= profile.Thresholds[1]:
		return pkg.ZoneOrange, nil
	case cci >= profile.Thresholds[0]:
		return pkg.ZoneYellow, nil
	default:
		return pkg.ZoneGreen, nil
	}
}

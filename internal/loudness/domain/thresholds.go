package loudness

// Thresholds bound the acceptable average loudness.
// A zero value is disabled: nothing is classified.
type Thresholds struct {
	LowDB   float64 `yaml:"low_db"`
	HighDB  float64 `yaml:"high_db"`
	Enabled bool    `yaml:"enabled"`
}

// NewThresholds builds enabled thresholds.
func NewThresholds(lowDB, highDB float64) (Thresholds, error) {
	if lowDB > highDB {
		return Thresholds{}, ErrInvalidThresholds
	}
	return Thresholds{LowDB: lowDB, HighDB: highDB, Enabled: true}, nil
}

// Classify maps an average level to a status. ok is false when disabled.
func (t Thresholds) Classify(avgDB float64) (Status, bool) {
	if !t.Enabled {
		return "", false
	}
	switch {
	case avgDB < t.LowDB:
		return StatusTooLow, true
	case avgDB > t.HighDB:
		return StatusTooLoud, true
	default:
		return StatusNormal, true
	}
}

package intake

import (
	"StemForge/core/classifier"
)

// Reason names the corpus selection rule a file failed. Accepted files have ReasonNone.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonUnreadable     Reason = "unreadable"
	ReasonTooFewTracks   Reason = "too_few_instruments"
	ReasonSingleClass    Reason = "single_instrument_class"
	ReasonNoSharedClass  Reason = "no_shared_instrument_class"
	ReasonMultipleDrums  Reason = "multiple_drum_tracks"
	ReasonMissingClasses Reason = "missing_band_classes"
)

// Criteria are the corpus selection settings.
type Criteria struct {
	Program0IsPiano bool
	SeparateDrums   bool     // allow more than one drum track
	Band            []string // classes every accepted file must contain
}

// Evaluate applies the selection rules in order and returns the first one that
// fails. classes holds the classification of every instrument when the file
// got far enough to be classified. A program missing from the class table is
// returned as an error.
func Evaluate(song *Song, table classifier.Table, c Criteria) (Reason, []classifier.Class, error) {
	if song == nil {
		return ReasonUnreadable, nil, nil
	}
	if len(song.Instruments) < 2 {
		return ReasonTooFewTracks, nil, nil
	}

	classes := make([]classifier.Class, len(song.Instruments))
	distinct := make(map[string]bool)
	for i, inst := range song.Instruments {
		cls, err := table.Classify(inst.Program, inst.IsDrum, c.Program0IsPiano)
		if err != nil {
			return ReasonNone, nil, err
		}
		classes[i] = cls
		distinct[cls.Tag] = true
	}

	if len(distinct) == 1 {
		return ReasonSingleClass, classes, nil
	}
	// Files where no two instruments share a class are rejected as well.
	if len(distinct) == len(song.Instruments) {
		return ReasonNoSharedClass, classes, nil
	}

	if !c.SeparateDrums {
		drums := 0
		for _, inst := range song.Instruments {
			if inst.IsDrum {
				drums++
			}
		}
		if drums > 1 {
			return ReasonMultipleDrums, classes, nil
		}
	}

	for _, required := range c.Band {
		if !distinct[required] {
			return ReasonMissingClasses, classes, nil
		}
	}
	return ReasonNone, classes, nil
}

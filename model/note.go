package model

// Note is a single sounding note of a stem. Start and End are absolute positions in ticks.
type Note struct {
	Pitch    int
	Velocity int
	Start    uint32
	End      uint32
}

// CloneNotes returns a copy of notes that shares no backing array with the input.
func CloneNotes(notes []Note) []Note {
	if notes == nil {
		return nil
	}
	out := make([]Note, len(notes))
	copy(out, notes)
	return out
}

package dict

import (
	"errors"
	"fmt"

	"github.com/skypro1111/asr-session-client/internal/transcription"
)

// ErrLocked is returned when editing a locked entry or a locked dictionary
var ErrLocked = errors.New("dictionary entry is locked")

// Clean drops empty source strings, then entries left without sources or
// without a replacement. The service applies the same rule on submit.
func Clean(d transcription.Dict) transcription.Dict {
	out := transcription.Dict{
		Entries: make([]transcription.DictEntry, 0, len(d.Entries)),
		Locked:  d.Locked,
	}

	for _, entry := range d.Entries {
		sources := make([]transcription.SourceString, 0, len(entry.SourceStrings))
		for _, src := range entry.SourceStrings {
			if src.String != "" {
				sources = append(sources, src)
			}
		}
		if len(sources) == 0 || entry.To == "" {
			continue
		}
		entry.SourceStrings = sources
		out.Entries = append(out.Entries, entry)
	}

	return out
}

// Add appends entry to the dictionary
func Add(d transcription.Dict, entry transcription.DictEntry) (transcription.Dict, error) {
	if d.Locked {
		return d, ErrLocked
	}

	out := clone(d)
	out.Entries = append(out.Entries, entry)
	return out, nil
}

// Update replaces entry i, bumping its version past the old one
func Update(d transcription.Dict, i int, entry transcription.DictEntry) (transcription.Dict, error) {
	if err := editable(d, i); err != nil {
		return d, err
	}

	out := clone(d)
	entry.Version = out.Entries[i].Version + 1
	out.Entries[i] = entry
	return out, nil
}

// Remove deletes entry i
func Remove(d transcription.Dict, i int) (transcription.Dict, error) {
	if err := editable(d, i); err != nil {
		return d, err
	}

	out := clone(d)
	out.Entries = append(out.Entries[:i], out.Entries[i+1:]...)
	return out, nil
}

// SetActive toggles entry i on or off
func SetActive(d transcription.Dict, i int, active bool) (transcription.Dict, error) {
	if err := editable(d, i); err != nil {
		return d, err
	}

	out := clone(d)
	out.Entries[i].Active = active
	out.Entries[i].Version++
	return out, nil
}

// Equal compares entries by content, ignoring versions the service may bump
func Equal(a, b []transcription.DictEntry) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i].To != b[i].To || a[i].Active != b[i].Active || a[i].Locked != b[i].Locked {
			return false
		}
		if len(a[i].SourceStrings) != len(b[i].SourceStrings) {
			return false
		}
		for j := range a[i].SourceStrings {
			if a[i].SourceStrings[j] != b[i].SourceStrings[j] {
				return false
			}
		}
	}

	return true
}

func editable(d transcription.Dict, i int) error {
	if i < 0 || i >= len(d.Entries) {
		return fmt.Errorf("entry index %d out of range [0, %d)", i, len(d.Entries))
	}
	if d.Locked || d.Entries[i].Locked {
		return ErrLocked
	}
	return nil
}

func clone(d transcription.Dict) transcription.Dict {
	out := transcription.Dict{
		Entries: make([]transcription.DictEntry, len(d.Entries)),
		Locked:  d.Locked,
	}
	for i, entry := range d.Entries {
		entry.SourceStrings = append([]transcription.SourceString(nil), entry.SourceStrings...)
		out.Entries[i] = entry
	}
	return out
}

package advisor

import (
	"time"

	"github.com/google/uuid"

	advisormodel "github.com/zhouzirui/global-compliance/backend/internal/model/advisor"
)

// Transcript is the append-only conversation log of one session.
// Only the last entry can be open; fragments from the same speaker extend it.
type Transcript struct {
	entries []advisormodel.TranscriptEntry
	now     func() time.Time
}

func NewTranscript() *Transcript {
	return &Transcript{now: time.Now}
}

// Append extends the open entry of speaker or starts a new one.
func (t *Transcript) Append(speaker advisormodel.Speaker, text string) advisormodel.TranscriptEntry {
	if n := len(t.entries); n > 0 {
		last := &t.entries[n-1]
		if !last.Final && last.Speaker == speaker {
			last.Text += text
			return *last
		}
		last.Final = true
	}
	t.entries = append(t.entries, advisormodel.TranscriptEntry{
		ID:        uuid.NewString(),
		Speaker:   speaker,
		Text:      text,
		CreatedAt: t.now().UTC(),
	})
	return t.entries[len(t.entries)-1]
}

// Begin closes the open entry, if any, and starts a new one for speaker.
func (t *Transcript) Begin(speaker advisormodel.Speaker, text string) advisormodel.TranscriptEntry {
	if n := len(t.entries); n > 0 {
		t.entries[n-1].Final = true
	}
	return t.Append(speaker, text)
}

// CloseTurn finalizes the open entry, if any.
func (t *Transcript) CloseTurn() (advisormodel.TranscriptEntry, bool) {
	n := len(t.entries)
	if n == 0 || t.entries[n-1].Final {
		return advisormodel.TranscriptEntry{}, false
	}
	t.entries[n-1].Final = true
	return t.entries[n-1], true
}

// System records a closed advisor line such as a connection notice.
func (t *Transcript) System(text string) advisormodel.TranscriptEntry {
	if n := len(t.entries); n > 0 {
		t.entries[n-1].Final = true
	}
	entry := advisormodel.TranscriptEntry{
		ID:        uuid.NewString(),
		Speaker:   advisormodel.SpeakerAdvisor,
		Text:      text,
		Final:     true,
		CreatedAt: t.now().UTC(),
	}
	t.entries = append(t.entries, entry)
	return entry
}

// Entries returns a copy of the log.
func (t *Transcript) Entries() []advisormodel.TranscriptEntry {
	out := make([]advisormodel.TranscriptEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

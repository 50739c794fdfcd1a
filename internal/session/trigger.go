package session

// TriggerScanner watches outgoing keystrokes for the snippet trigger
// sequence. Bytes that could still become the trigger are withheld from the
// remote side; a mismatch releases them, a full match fires without ever
// forwarding the trigger itself.
type TriggerScanner struct {
	trigger []byte
	matched int
}

// Action is the scanner's verdict for one input byte. Forward holds bytes
// to send to the remote channel now (possibly previously withheld prefix
// bytes); Fired means the trigger completed.
type Action struct {
	Forward []byte
	Fired   bool
}

// NewTriggerScanner returns a scanner for the given trigger sequence.
// An empty trigger disables detection: every byte is forwarded as-is.
func NewTriggerScanner(trigger string) *TriggerScanner {
	return &TriggerScanner{trigger: []byte(trigger)}
}

// Scan processes one keystroke byte.
func (s *TriggerScanner) Scan(b byte) Action {
	if len(s.trigger) == 0 {
		return Action{Forward: []byte{b}}
	}

	if b == s.trigger[s.matched] {
		s.matched++
		if s.matched == len(s.trigger) {
			s.matched = 0
			return Action{Fired: true}
		}
		return Action{}
	}

	// Mismatch: release the withheld prefix, then let b start a new match.
	flushed := make([]byte, s.matched, s.matched+1)
	copy(flushed, s.trigger[:s.matched])
	s.matched = 0

	if b == s.trigger[0] {
		s.matched = 1
		if s.matched == len(s.trigger) {
			s.matched = 0
			return Action{Forward: flushed, Fired: true}
		}
		return Action{Forward: flushed}
	}
	return Action{Forward: append(flushed, b)}
}

// Pending returns any withheld prefix bytes, clearing the match state.
// Used when the input stream ends mid-match.
func (s *TriggerScanner) Pending() []byte {
	pending := make([]byte, s.matched)
	copy(pending, s.trigger[:s.matched])
	s.matched = 0
	return pending
}

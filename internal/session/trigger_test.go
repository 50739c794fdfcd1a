package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// feed runs a byte sequence through the scanner, collecting forwarded bytes
// and fire count.
func feed(s *TriggerScanner, input string) (forwarded string, fires int) {
	var out []byte
	for i := 0; i < len(input); i++ {
		act := s.Scan(input[i])
		out = append(out, act.Forward...)
		if act.Fired {
			fires++
		}
	}
	return string(out), fires
}

func TestTriggerScanner_FiresWithoutForwardingTrigger(t *testing.T) {
	s := NewTriggerScanner("~~")
	forwarded, fires := feed(s, "ls -la~~")
	assert.Equal(t, "ls -la", forwarded)
	assert.Equal(t, 1, fires)
}

func TestTriggerScanner_PartialMatchIsReleasedOnMismatch(t *testing.T) {
	s := NewTriggerScanner("~~")
	forwarded, fires := feed(s, "~x")
	assert.Equal(t, "~x", forwarded)
	assert.Equal(t, 0, fires)
}

func TestTriggerScanner_MismatchByteCanRestartMatch(t *testing.T) {
	s := NewTriggerScanner("ab")
	// "aab": first 'a' buffered, second 'a' mismatches 'b' but restarts,
	// 'b' completes. Only the flushed first 'a' is forwarded.
	forwarded, fires := feed(s, "aab")
	assert.Equal(t, "a", forwarded)
	assert.Equal(t, 1, fires)
}

func TestTriggerScanner_FiresRepeatedly(t *testing.T) {
	s := NewTriggerScanner("~~")
	forwarded, fires := feed(s, "~~one~~two~~")
	assert.Equal(t, "onetwo", forwarded)
	assert.Equal(t, 3, fires)
}

func TestTriggerScanner_EmptyTriggerForwardsEverything(t *testing.T) {
	s := NewTriggerScanner("")
	forwarded, fires := feed(s, "~~anything~~")
	assert.Equal(t, "~~anything~~", forwarded)
	assert.Equal(t, 0, fires)
}

func TestTriggerScanner_PendingReturnsWithheldPrefix(t *testing.T) {
	s := NewTriggerScanner("~~")
	s.Scan('~')
	assert.Equal(t, []byte("~"), s.Pending())
	// State is cleared: the next tilde starts a fresh match.
	act := s.Scan('~')
	assert.Empty(t, act.Forward)
	assert.False(t, act.Fired)
}

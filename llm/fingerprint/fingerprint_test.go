package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestSumDeterministic(t *testing.T) {
	assert.Equal(t, Sum("hello"), Sum("hello"))
	assert.Len(t, Sum(""), 64)
}

func TestSumWhitespaceSensitive(t *testing.T) {
	assert.NotEqual(t, Sum("a b"), Sum("a  b"))
	assert.NotEqual(t, Sum("a\n"), Sum("a"))
}

func TestSumProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.String().Draw(t, "a")
		b := rapid.String().Draw(t, "b")
		if a == b {
			if Sum(a) != Sum(b) {
				t.Fatalf("equal inputs produced different digests")
			}
		} else if Sum(a) == Sum(b) {
			t.Fatalf("different inputs %q and %q collided", a, b)
		}
	})
}

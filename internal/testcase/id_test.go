package testcase

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitials(t *testing.T) {
	assert.Equal(t, "ST", Initials("Scenario Test 1"))
	assert.Equal(t, "LFC", Initials("  login   flow\tcheck "))
	assert.Equal(t, "ST", Initials(""))
	assert.Equal(t, "ST", Initials("   "))
	assert.Equal(t, "ST", Initials("123 456"))
	assert.Equal(t, "ÉP", Initials("école paiement"))
}

func TestNextSequence(t *testing.T) {
	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, Next("ST", ids))
	}
	assert.Equal(t, []string{"ST10001", "ST10002", "ST10003"}, ids)

	ids = append(ids, "ST20005")
	assert.Equal(t, "ST20006", Next("ST", ids))
}

func TestNextIgnoresForeignIDs(t *testing.T) {
	existing := []string{"LF10009", "ST1000X", "STX10002", "ST"}
	assert.Equal(t, "ST10001", Next("ST", existing))
}

func TestSequence(t *testing.T) {
	n, ok := Sequence("ST", "ST10042")
	assert.True(t, ok)
	assert.Equal(t, 10042, n)

	_, ok = Sequence("ST", "LF10042")
	assert.False(t, ok)
}

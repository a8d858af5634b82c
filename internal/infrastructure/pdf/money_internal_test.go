package pdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatMoney(t *testing.T) {
	cases := map[string]string{
		"0":        "0",
		"999":      "999",
		"1000":     "1.000",
		"25000":    "25.000",
		"1000000":  "1.000.000",
		"-1190000": "-1.190.000",
	}
	for in, want := range cases {
		assert.Equal(t, want, formatMoney(in))
	}
	assert.Equal(t, "76.086.428-5", formatRUT("76086428-5"))
	assert.Equal(t, "no-rut", formatRUT("no-rut"))
}

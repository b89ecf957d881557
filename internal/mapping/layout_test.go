package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"MM/dd/yyyy", "01/02/2006"},
		{"yyyy-MM-dd HH:mm:ss", "2006-01-02 15:04:05"},
		{"M/d/yy", "1/2/06"},
		{"dd MMM yyyy", "02 Jan 2006"},
		{"yyyy-MM-dd'T'HH:mm", "2006-01-02T15:04"},
		{"dd.MM.yyyy 'at' h:mm a", "02.01.2006 at 3:04 PM"},
		{"''yy MM dd", "'06 01 02"},
		{"01/02/2006", "01/02/2006"},
		{"02 Jan 2006 15:04 MST", "02 Jan 2006 15:04 MST"},
		{"2006-01-02T15:04:05Z07:00", "2006-01-02T15:04:05Z07:00"},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			got, err := Layout(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLayout_Rejects(t *testing.T) {
	tests := []struct {
		pattern string
		wantErr string
	}{
		{"", "blank"},
		{"yyyy-QQ-dd", `unsupported field "QQ"`},
		{"dd/MM/yyyy zz", `unsupported field "zz"`},
		{"yyyy-MM-dd'T", "unterminated quote"},
		{"HH:mm", "must include year, month and day"},
		{"MM/yyyy", "must include year, month and day"},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			_, err := Layout(tt.pattern)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

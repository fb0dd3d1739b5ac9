package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{"form", TypeForm, false},
		{"survey", TypeSurvey, false},
		{" Survey ", TypeSurvey, false},
		{"", "", true},
		{"checkout", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseType(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidType))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "session:form:abc", Key(TypeForm, "abc"))
	assert.Equal(t, "session:survey:a:b", Key(TypeSurvey, "a:b"))
	assert.Equal(t, "session:*:*", pattern(""))
	assert.Equal(t, "session:form:*", pattern(TypeForm))
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

package registry

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Has101Municipalities(t *testing.T) {
	r := Default()
	assert.Equal(t, 101, r.Len())

	boston, ok := r.Lookup(35)
	require.True(t, ok)
	assert.Equal(t, "Boston", boston.Name)
	assert.Equal(t, "BOSTON", boston.Canonical)

	assert.False(t, r.Contains(999))
	assert.Equal(t, "", r.Name(999))
}

func TestDefault_Ordered(t *testing.T) {
	all := Default().All()
	require.NotEmpty(t, all)
	assert.Equal(t, MunicipalityID(2), all[0].ID)
	assert.Equal(t, "Acton", all[0].Name)
	assert.Equal(t, "Wrentham", all[len(all)-1].Name)
}

func TestAll_ReturnsCopy(t *testing.T) {
	r := Default()
	all := r.All()
	all[0].Name = "mutated"
	assert.Equal(t, "Acton", r.Name(2))
}

func TestLoad(t *testing.T) {
	src := "TOWN_ID,TOWN\n1,ABINGTON\n 163 , LYNN \n"
	r, err := Load(context.Background(), strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, "Lynn", r.Name(163))
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"non-numeric id", "TOWN_ID,TOWN\nabc,BOSTON\n", "parse municipality id"},
		{"zero id", "TOWN_ID,TOWN\n0,BOSTON\n", "must be positive"},
		{"duplicate", "TOWN_ID,TOWN\n35,BOSTON\n35,BOSTON\n", "duplicate municipality id"},
		{"short row", "TOWN_ID,TOWN\n35\n", "expected 2 fields"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(context.Background(), strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

// endlessTowns serves a header, one bad row, then valid rows forever.
type endlessTowns struct {
	sent bool
}

func (e *endlessTowns) Read(p []byte) (int, error) {
	if !e.sent {
		e.sent = true
		return copy(p, "TOWN_ID,TOWN\nabc,BOSTON\n"), nil
	}
	return copy(p, "35,BOSTON\n"), nil
}

func TestLoad_EarlyErrorStopsReader(t *testing.T) {
	before := runtime.NumGoroutine()

	_, err := Load(context.Background(), &endlessTowns{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry: line 2")

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, 2*time.Second, 10*time.Millisecond)
}

func TestParseID(t *testing.T) {
	id, err := ParseID(" 35 ")
	require.NoError(t, err)
	assert.Equal(t, MunicipalityID(35), id)
	assert.Equal(t, "35", id.String())

	_, err = ParseID("")
	assert.Error(t, err)
	_, err = ParseID("-4")
	assert.Error(t, err)
}

func TestTitleCase(t *testing.T) {
	assert.Equal(t, "North Reading", TitleCase("NORTH READING"))
	assert.Equal(t, "Boston", TitleCase("  boston "))
}

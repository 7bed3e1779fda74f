package docsvc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/D4NGK4/CHEDFC/internal/approval"
)

func TestDecodePersonalities_Objects(t *testing.T) {
	people, err := DecodePersonalities([]byte(`[{"email":" a@x.com ","name":"Alice","level":"Director"},{"name":"no email"}]`))
	require.NoError(t, err)
	assert.Equal(t, []approval.Person{{Email: "a@x.com", Name: "Alice", Level: "Director"}}, people)
}

func TestDecodePersonalities_Empty(t *testing.T) {
	people, err := DecodePersonalities([]byte(" null "))
	require.NoError(t, err)
	assert.Empty(t, people)

	_, err = DecodePersonalities([]byte("nonsense"))
	assert.Error(t, err)
}

func testDirectory() *Directory {
	return NewDirectory([]approval.Person{
		{Email: "ana@x.com", Name: "Ana Cruz", Initials: "AC", Level: "Division Chief", Division: "Technical"},
		{Email: "ben@x.com", Name: "Ben Diaz", Initials: "BD", Level: "Director"},
		{Email: "Cara@X.com", Name: "Cara Lim", Initials: "CL", Level: "Division Chief", Division: "Administrative"},
	})
}

func TestDirectory_Resolve(t *testing.T) {
	d := testDirectory()

	email, ok := d.Resolve("someone@x.com")
	assert.True(t, ok)
	assert.Equal(t, "someone@x.com", email)

	email, ok = d.Resolve("Ben Diaz")
	assert.True(t, ok)
	assert.Equal(t, "ben@x.com", email)

	email, ok = d.Resolve("ac")
	assert.True(t, ok)
	assert.Equal(t, "ana@x.com", email)

	_, ok = d.Resolve("Nobody")
	assert.False(t, ok)
	_, ok = d.Resolve(" ")
	assert.False(t, ok)
}

func TestDirectory_ByEmailAndLevel(t *testing.T) {
	d := testDirectory()

	p, ok := d.ByEmail("cara@x.com")
	require.True(t, ok)
	assert.Equal(t, "Cara Lim", p.Name)

	chiefs := d.ByLevel(" Division Chief ")
	require.Len(t, chiefs, 2)
	assert.Equal(t, "ana@x.com", chiefs[0].Email)
	assert.Empty(t, d.ByLevel("Clerk"))
}

func TestExtractDocumentID(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"1hm5BMdt7L9P_A9vZ5WGFYL_77KYnXBUTtZ8HihCfofk", "1hm5BMdt7L9P_A9vZ5WGFYL_77KYnXBUTtZ8HihCfofk", true},
		{"https://docs.example.com/document/d/abc_123-XYZ/edit", "abc_123-XYZ", true},
		{"https://docs.example.com/open?id=abc123", "abc123", true},
		{"https://files.example.com/x/1hm5BMdt7L9P_A9vZ5WGFYL_77KY", "1hm5BMdt7L9P_A9vZ5WGFYL_77KY", true},
		{"https://example.com/short", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ExtractDocumentID(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDictionary(t *testing.T) {
	content := `# protocol keywords
kw1="BIND"
kw2="UNBIND"
"anonymous"
hex="\x30\x84"
escaped="say \"hi\" \\ there"

# trailing comment
`
	path := filepath.Join(t.TempDir(), "dict.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	tokens, err := LoadDictionary(path)
	require.NoError(t, err)
	require.Len(t, tokens, 5)

	assert.Equal(t, []byte("BIND"), tokens[0])
	assert.Equal(t, []byte("UNBIND"), tokens[1])
	assert.Equal(t, []byte("anonymous"), tokens[2])
	assert.Equal(t, []byte{0x30, 0x84}, tokens[3])
	assert.Equal(t, []byte(`say "hi" \ there`), tokens[4])
}

func TestLoadDictionary_Errors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"no quotes", "token=value"},
		{"unterminated", `broken="abc`},
		{"bad escape", `bad="\q"`},
		{"bad hex", `bad="\xzz"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "dict.txt")
			require.NoError(t, os.WriteFile(path, []byte(tt.line+"\n"), 0644))

			_, err := LoadDictionary(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadDictionary_MissingFile(t *testing.T) {
	_, err := LoadDictionary(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}

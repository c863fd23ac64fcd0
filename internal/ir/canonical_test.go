package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalScalars(t *testing.T) {
	tests := []struct {
		name     string
		input    IRValue
		expected string
	}{
		{"string", IRString("hello"), `"hello"`},
		{"empty string", IRString(""), `""`},
		{"int", IRInt(42), "42"},
		{"negative int", IRInt(-100), "-100"},
		{"null", IRNull{}, "null"},
		{"bool", IRBool(true), "true"},
		{"float", IRFloat(4.5), "4.5"},
		{"integral float", IRFloat(3), "3"},
		{"zero float", IRFloat(0), "0"},
		{"large float", IRFloat(1e21), "1e+21"},
		{"tiny float", IRFloat(1e-7), "1e-7"},
		{"empty array", IRArray{}, "[]"},
		{"empty object", IRObject{}, "{}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
		})
	}
}

func TestMarshalCanonicalSortsKeysRecursively(t *testing.T) {
	obj := IRObject{
		"title": IRString("Be Thou My Vision"),
		"sections": IRArray{
			IRObject{"order": IRInt(2), "id": IRString("chorus")},
		},
		"artist": IRString("Traditional"),
	}

	out, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t,
		`{"artist":"Traditional","sections":[{"id":"chorus","order":2}],"title":"Be Thou My Vision"}`,
		string(out))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	out, err := MarshalCanonical(IRString("<verse> & <chorus>"))
	require.NoError(t, err)
	assert.Equal(t, `"<verse> & <chorus>"`, string(out))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	decomposed := "Cafe\u0301"
	composed := "Caf\u00e9"

	a, err := MarshalCanonical(IRString(decomposed))
	require.NoError(t, err)
	b, err := MarshalCanonical(IRString(composed))
	require.NoError(t, err)
	assert.Equal(t, b, a)
}

func TestMarshalCanonicalLineSeparators(t *testing.T) {
	out, err := MarshalCanonical(IRString("a\u2028b"))
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(out))

	// A literal backslash followed by "u2028" stays escaped.
	out, err = MarshalCanonical(IRString(`a\u2028b`))
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028b"`, string(out))
}

func TestMarshalCanonicalUTF16KeyOrder(t *testing.T) {
	// U+1F600 encodes as surrogates 0xD83D 0xDE00, which sort before
	// U+FF5E in UTF-16 even though the UTF-8 bytes sort after.
	obj := IRObject{
		"\uff5e":     IRInt(1),
		"\U0001F600": IRInt(2),
	}
	out, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"\uff5e\":1}", string(out))
}

func TestMarshalCanonicalDeterministic(t *testing.T) {
	build := func() IRObject {
		return IRObject{
			"tags":    Strings("hymn", "celtic"),
			"rating":  IRFloat(4.25),
			"tempo":   IRInt(72),
			"notes":   IRNull{},
			"details": IRObject{"b": IRBool(false), "a": IRString("x")},
		}
	}
	first, err := MarshalCanonical(build())
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := MarshalCanonical(build())
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

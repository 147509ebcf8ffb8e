package cipher_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RowanDark/unravel/internal/cipher"
)

func decode(t *testing.T, name string, input []byte) string {
	t.Helper()
	tr, ok := cipher.GetTransform(name)
	require.True(t, ok, "transform %s not registered", name)
	text, ok := tr.Decode(input)
	require.True(t, ok, "transform %s reported no text", name)
	return text
}

func TestDefaultBankOrder(t *testing.T) {
	names := cipher.DefaultBank().Names()

	require.Len(t, names, 3+14+len(cipher.XORKeys)+13+1)
	require.Equal(t, []string{"raw", "utf16le", "not", "add-7"}, names[:4])
	require.Equal(t, "add7", names[16])
	require.Equal(t, "xor_20", names[17])
	require.Equal(t, "xor_ff", names[18])
	require.Contains(t, names, "xor_0")
	require.Contains(t, names, "xor_f")
	require.NotContains(t, names, "add0")
	require.Equal(t, "rot1", names[36])
	require.Equal(t, "rot13", names[48])
	require.Equal(t, "base64_try", names[len(names)-1])
}

func TestBankWithout(t *testing.T) {
	bank := cipher.DefaultBank().Without("raw", "base64_try")
	names := bank.Names()
	require.Len(t, names, len(cipher.DefaultBank())-2)
	require.Equal(t, "utf16le", names[0])
	require.NotContains(t, names, "base64_try")
}

func TestRawDecode(t *testing.T) {
	require.Equal(t, "hello", decode(t, "raw", []byte("hello")))
	require.Equal(t, "a\uFFFDb", decode(t, "raw", []byte{'a', 0xFF, 'b'}))
	require.Equal(t, "a", decode(t, "raw", []byte{0xEF, 0xBB, 0xBF, 'a'}))
	require.Equal(t, "\u00e9", decode(t, "raw", []byte{0xC3, 0xA9}))
}

func TestUTF16LEDecode(t *testing.T) {
	require.Equal(t, "hi", decode(t, "utf16le", []byte{'h', 0, 'i', 0}))
	require.Equal(t, "h", decode(t, "utf16le", []byte{0xFF, 0xFE, 'h', 0}))
	require.Equal(t, "h\uFFFD", decode(t, "utf16le", []byte{'h', 0, 'i'}))
}

func TestNotDecode(t *testing.T) {
	plain := []byte("config")
	enc := make([]byte, len(plain))
	for i, b := range plain {
		enc[i] = ^b
	}
	require.Equal(t, "config", decode(t, "not", enc))
}

func TestAddDecode(t *testing.T) {
	tests := []struct {
		name  string
		delta int
	}{
		{"add3", 3},
		{"add-5", -5},
		{"add7", 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plain := []byte("password")
			enc := make([]byte, len(plain))
			for i, b := range plain {
				enc[i] = b - byte(tt.delta)
			}
			require.Equal(t, "password", decode(t, tt.name, enc))
		})
	}
}

func TestXORDecode(t *testing.T) {
	for _, key := range cipher.XORKeys {
		tr := cipher.NewXOR(key)
		plain := []byte("endpoint")
		enc := make([]byte, len(plain))
		for i, b := range plain {
			enc[i] = b ^ key
		}
		text, ok := tr.Decode(enc)
		require.True(t, ok)
		require.Equal(t, "endpoint", text, "key 0x%02x", key)
	}
}

func TestXORNames(t *testing.T) {
	require.Equal(t, "xor_20", cipher.NewXOR(0x20).Name())
	require.Equal(t, "xor_0", cipher.NewXOR(0x00).Name())
	require.Equal(t, "xor_f", cipher.NewXOR(0x0F).Name())
	require.Equal(t, "xor_c3", cipher.NewXOR(0xC3).Name())
}

func TestRotDecode(t *testing.T) {
	require.Equal(t, "Uryyb, Jbeyq!", decode(t, "rot13", []byte("Hello, World!")))
	require.Equal(t, "bcd", decode(t, "rot1", []byte("abc")))
	require.Equal(t, "Zab", decode(t, "rot1", []byte("Yza")))
	// bytes outside ASCII map to the code point of the same value
	require.Equal(t, "a\u00e9", decode(t, "rot13", []byte{'n', 0xE9}))
}

func TestRotate(t *testing.T) {
	require.Equal(t, byte('z'), cipher.Rotate('a', -1))
	require.Equal(t, byte('A'), cipher.Rotate('Z', 27))
	require.Equal(t, byte('5'), cipher.Rotate('5', 3))
}

func TestBase64Decode(t *testing.T) {
	tr, ok := cipher.GetTransform("base64_try")
	require.True(t, ok)

	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"padded", "aGVsbG8gd29ybGQ=", "hello world", true},
		{"unpadded", "aGVsbG8gd29ybGQ", "hello world", true},
		{"whitespace", "aGVs bG8g\nd29y bGQ=", "hello world", true},
		{"too short", "aGk=", "", false},
		{"bad alphabet", "hello world!!", "", false},
		{"dangling char", "aGVsbG8gd", "", false},
		{"inner padding", "aGk=aGk=aGk=", "", false},
		{"binary", "AAECAwQF", "\x00\x01\x02\x03\x04\x05", true},
		{"high bytes", "/////w==", "\u00ff\u00ff\u00ff\u00ff", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tr.Decode([]byte(tt.input))
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestTransformsAreTotal(t *testing.T) {
	inputs := [][]byte{nil, {}, {0x00}, {0xFF, 0xFE, 0xFD}, []byte("plain text")}
	for _, tr := range cipher.DefaultBank() {
		if tr.Name() == "base64_try" {
			continue
		}
		for _, in := range inputs {
			_, ok := tr.Decode(in)
			require.True(t, ok, "%s must accept %v", tr.Name(), in)
		}
	}
}

func TestDescribe(t *testing.T) {
	info := cipher.Describe(cipher.NewRot(5))
	require.Equal(t, "rot5", info.Name)
	require.Equal(t, cipher.FamilyRotate, info.Family)
	require.NotEmpty(t, info.Description)
}

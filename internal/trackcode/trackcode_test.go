package trackcode

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerate_Long_RoundTrip(t *testing.T) {
	for i := 0; i < 100; i++ {
		code := Generate("TAS", ModeLong)
		require.True(t, Validate(code), code)

		parts := strings.Split(code, "-")
		require.Len(t, parts, 4)
		require.Equal(t, "TAS", parts[0])
		require.Equal(t, time.Now().UTC().Format("20060102"), parts[1])
		require.Len(t, parts[2], 6)
		require.Len(t, parts[3], 1)
	}
}

func TestGenerate_Short(t *testing.T) {
	code := Generate("TAS", ModeShort)
	parts := strings.Split(code, "-")
	require.Len(t, parts, 2)
	require.Equal(t, "TAS", parts[0])
	require.Len(t, parts[1], 6)
	for _, c := range parts[1] {
		require.Contains(t, alphabet, string(c))
	}
}

func TestGenerate_BodyUsesSafeAlphabet(t *testing.T) {
	code := Generate("WH", ModeLong)
	body := strings.Split(code, "-")[2]
	for _, banned := range []string{"0", "O", "1", "I"} {
		require.NotContains(t, body, banned)
	}
}

func TestValidate_StructuralMismatches(t *testing.T) {
	cases := []string{
		"",
		"TAS",
		"TAS-20250119",
		"TAS-20250119-A3F7K2",             // нет контрольного символа
		"TAS-20250119-A3F7K2-XX",          // контрольный символ длиной 2
		"TAS-2025011-A3F7K2-X",            // дата короче
		"TAS-2025O119-A3F7K2-X",           // буква в дате
		"TAS-20250119-A3F7K-X",            // тело короче
		"TAS-20250119-A0F7K2-X",           // запрещённый символ в теле
		"-20250119-A3F7K2-X",              // пустой префикс
		"TAS-20250119-A3F7K2-X-Y",         // лишний сегмент
	}
	for _, c := range cases {
		require.False(t, Validate(c), c)
	}
}

func TestValidate_PrefixMustBeUppercase(t *testing.T) {
	// Контрольный символ считаем честно, чтобы резала именно проверка префикса.
	for _, prefix := range []string{"tas", "Ta5", "T_S"} {
		base := prefix + "-20250119-ABCDEF"
		require.False(t, Validate(base+"-"+string(checksumChar(base))), prefix)
	}
}

func TestValidate_ChecksumCatchesMutation(t *testing.T) {
	code := Generate("TAS", ModeLong)
	body := []byte(code)

	// Мутируем один символ тела; контрольный символ должен поймать.
	i := len("TAS-20060102-")
	orig := body[i]
	for _, c := range []byte(alphabet) {
		if c == orig {
			continue
		}
		body[i] = c
		break
	}
	require.False(t, Validate(string(body)))
}

func TestValidate_KnownVector(t *testing.T) {
	base := "TAS-20250119-ABCDEF"
	code := base + "-" + string(checksumChar(base))
	require.True(t, Validate(code))
}

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/vietddude/voicebatch/internal/core/domain"
)

// Key derives the cache key for a synthesis request.
// Output format is part of the key so a cached mp3 never answers a wav request.
func Key(provider string, voice domain.VoiceOptions, text string) string {
	h := sha256.New()

	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}

	write(strings.ToLower(provider))
	write(voice.Voice)
	write(strings.ToLower(voice.Format))
	write(strings.ToLower(voice.Language))
	write(strconv.FormatFloat(voice.Speed, 'f', -1, 64))

	if len(voice.Extra) > 0 {
		keys := make([]string, 0, len(voice.Extra))
		for k := range voice.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			write(k + "=" + voice.Extra[k])
		}
	}

	write(NormalizeText(text))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeText trims the text and collapses runs of whitespace.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

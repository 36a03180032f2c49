// Package i18n maps terminal failure kinds to localized user-facing
// messages. English and Indonesian are supported; anything else falls back
// to English through language matching.
package i18n

import (
	"errors"

	"golang.org/x/text/language"

	"stylist/internal/credits"
	"stylist/internal/processing"
)

// Action tells the presentation layer what recovery to offer alongside the
// message.
type Action int

const (
	// ActionRetry offers a plain retry (a fresh submission).
	ActionRetry Action = iota
	// ActionPurchaseCredits offers the purchase or rewarded-ad flow instead
	// of a retry.
	ActionPurchaseCredits
)

// Message is one localized failure presentation.
type Message struct {
	Text   string
	Action Action
}

var supported = []language.Tag{
	language.English,
	language.Indonesian,
}

var matcher = language.NewMatcher(supported)

type messageKey int

const (
	keyImageSaveFailed messageKey = iota
	keyInvalidResponse
	keyNetwork
	keyInsufficientCredits
	keyGeneric
)

// Texts are indexed in parallel with the supported tags.
var catalog = map[messageKey][]string{
	keyImageSaveFailed: {
		"Failed to save your photo. Please try again.",
		"Gagal menyimpan foto Anda. Silakan coba lagi.",
	},
	keyInvalidResponse: {
		"The styling service returned an unexpected result. Please try again.",
		"Layanan styling mengembalikan hasil yang tidak terduga. Silakan coba lagi.",
	},
	keyNetwork: {
		"A network error occurred. Check your connection and try again.",
		"Terjadi kesalahan jaringan. Periksa koneksi Anda dan coba lagi.",
	},
	keyInsufficientCredits: {
		"You are out of credits. Get more to keep styling your photos.",
		"Kredit Anda habis. Dapatkan lebih banyak untuk terus styling foto Anda.",
	},
	keyGeneric: {
		"Something went wrong. Please try again.",
		"Terjadi kesalahan. Silakan coba lagi.",
	},
}

// FailureMessage renders err for the given locale (a BCP 47 tag such as
// "en", "id" or "id-ID").
func FailureMessage(locale string, err error) Message {
	_, idx, _ := matcher.Match(language.Make(locale))

	key := keyGeneric
	action := ActionRetry
	switch {
	case errors.Is(err, credits.ErrInsufficient):
		key = keyInsufficientCredits
		action = ActionPurchaseCredits
	case errors.Is(err, processing.ErrImageSaveFailed):
		key = keyImageSaveFailed
	case errors.Is(err, processing.ErrInvalidResponse):
		key = keyInvalidResponse
	case errors.Is(err, processing.ErrNetwork):
		key = keyNetwork
	}

	return Message{Text: catalog[key][idx], Action: action}
}

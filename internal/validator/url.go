// Package validator implements the Validator (C1): pure, side-effect-free
// syntactic checks on client-supplied URL, format ID, audio parameters, and
// subtitle language.
package validator

import (
	"fmt"
	"net/url"
	"regexp"

	"github.com/clipvault/extractor-api/internal/domain"
)

// formatIDPattern allows digits, letters, '+', '-', '/' up to 64 characters,
// matching the extractor's own format selector syntax (e.g. "137+140").
var formatIDPattern = regexp.MustCompile(`^[A-Za-z0-9+\-/]{1,64}$`)

// subtitleLangPattern is BCP-47-shaped: a primary subtag of 2-3 letters,
// optionally followed by one or more "-" separated subtags.
var subtitleLangPattern = regexp.MustCompile(`^[A-Za-z]{2,3}(-[A-Za-z0-9]{1,8})*$`)

var allowedAudioFormats = map[string]struct{}{
	"mp3": {}, "m4a": {}, "wav": {}, "opus": {},
}

var allowedAudioQualities = map[int]struct{}{
	128: {}, 192: {}, 320: {},
}

// Validator checks client input against the provider dispatcher's known URL
// patterns and the closed whitelists for audio/subtitle parameters.
type Validator struct {
	dispatcher domain.ProviderDispatcher
}

// New builds a Validator backed by dispatcher for provider-pattern checks.
func New(dispatcher domain.ProviderDispatcher) *Validator {
	return &Validator{dispatcher: dispatcher}
}

var _ domain.Validator = (*Validator)(nil)

// ValidateURL checks rawURL is well-formed and matches some known provider's
// URL pattern set. It does not consider whether the matched provider is
// currently enabled — that is ProviderDispatcher's concern at dispatch time.
func (v *Validator) ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return domain.NewError(domain.ErrInvalidURL, fmt.Sprintf("malformed url: %s", rawURL))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return domain.NewError(domain.ErrInvalidURL, fmt.Sprintf("unsupported scheme: %s", parsed.Scheme))
	}
	if _, err := v.dispatcher.Dispatch(rawURL); err != nil {
		if kind, ok := domain.KindOf(err); ok && kind == domain.ErrComponentUnavailable {
			return nil
		}
		return domain.NewError(domain.ErrInvalidURL, fmt.Sprintf("no provider recognizes url: %s", rawURL))
	}
	return nil
}

// ValidateFormatID checks formatID against the conservative extractor
// selector syntax.
func (v *Validator) ValidateFormatID(formatID string) error {
	if formatID == "" {
		return nil
	}
	if !formatIDPattern.MatchString(formatID) {
		return domain.NewError(domain.ErrInvalidFormat, fmt.Sprintf("invalid format id: %s", formatID))
	}
	return nil
}

// ValidateAudioFormat checks format against the closed whitelist.
func (v *Validator) ValidateAudioFormat(format string) error {
	if format == "" {
		return nil
	}
	if _, ok := allowedAudioFormats[format]; !ok {
		return domain.NewError(domain.ErrInvalidFormat, fmt.Sprintf("unsupported audio format: %s", format))
	}
	return nil
}

// ValidateAudioQuality checks quality against the closed whitelist.
func (v *Validator) ValidateAudioQuality(quality int) error {
	if quality == 0 {
		return nil
	}
	if _, ok := allowedAudioQualities[quality]; !ok {
		return domain.NewError(domain.ErrInvalidFormat, fmt.Sprintf("unsupported audio quality: %d", quality))
	}
	return nil
}

// ValidateSubtitleLang checks lang against a BCP-47-shaped regex.
func (v *Validator) ValidateSubtitleLang(lang string) error {
	if lang == "" {
		return nil
	}
	if !subtitleLangPattern.MatchString(lang) {
		return domain.NewError(domain.ErrInvalidFormat, fmt.Sprintf("invalid subtitle language: %s", lang))
	}
	return nil
}

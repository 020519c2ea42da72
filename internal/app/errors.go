package app

import (
	"errors"

	"golang.org/x/text/language"
)

// TransientError marks a failure worth retrying, such as a browser that did
// not start.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err so the job retry loop tries again. nil stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err, or any error it wraps, is transient.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

var (
	ErrMissingEmail = errors.New("scan has no delivery email")
	ErrInvalidEmail = errors.New("invalid email address")
	ErrUnknownJob   = errors.New("unknown job")
)

// Languages user-facing messages are available in. The first is the
// fallback.
var supportedLanguages = []language.Tag{language.French, language.English}

var languageMatcher = language.NewMatcher(supportedLanguages)

// MatchLanguage picks the supported language closest to an Accept-Language
// header value.
func MatchLanguage(accept string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(accept)
	if err != nil || len(tags) == 0 {
		return supportedLanguages[0]
	}
	_, idx, _ := languageMatcher.Match(tags...)
	return supportedLanguages[idx]
}

type messageKey int

const (
	msgScanFailed messageKey = iota
	msgInvalidURL
)

var messages = map[messageKey]map[language.Tag]string{
	msgScanFailed: {
		language.French:  "L'analyse de ce site a échoué. Vérifiez l'adresse et réessayez dans quelques minutes.",
		language.English: "We could not analyze this site. Check the address and try again in a few minutes.",
	},
	msgInvalidURL: {
		language.French:  "Cette adresse n'est pas une URL http(s) valide.",
		language.English: "This address is not a valid http(s) URL.",
	},
}

// ScanError is what callers of a free scan see: a generic, localized
// message. The cause stays reachable with errors.Is/As for logging.
type ScanError struct {
	ScanID string
	Lang   language.Tag

	key   messageKey
	cause error
}

func (e *ScanError) Error() string {
	m := messages[e.key]
	if s, ok := m[e.Lang]; ok {
		return s
	}
	return m[supportedLanguages[0]]
}

func (e *ScanError) Unwrap() error { return e.cause }

// InvalidURL reports whether the scan was refused before it started.
func (e *ScanError) InvalidURL() bool { return e.key == msgInvalidURL }

package domain

import (
	"errors"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidInput      = errors.New("invalid input")
	ErrTerminalState     = errors.New("generation already terminal")
	ErrRunTokenSet       = errors.New("run token already set")
	ErrProviderFailure   = errors.New("provider failure")
	ErrInvariantViolated = errors.New("generation invariant violated")
)

// ErrorKind tags the structured error envelope persisted on failed rows.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation_error"
	KindAuth           ErrorKind = "auth_error"
	KindProvider       ErrorKind = "provider_error"
	KindInfrastructure ErrorKind = "infrastructure_error"
	KindCancelled      ErrorKind = "cancelled"
)

// ErrorEnvelope is the machine-readable failure record stored alongside a
// failed generation. Summary is short human copy; Details keeps the raw
// provider payload for support and is never shown by default. Causes lists
// the error chain outermost first.
type ErrorEnvelope struct {
	Kind     ErrorKind `json:"kind"`
	Summary  string    `json:"summary"`
	Provider string    `json:"provider,omitempty"`
	Model    string    `json:"model,omitempty"`
	Code     int       `json:"code,omitempty"`
	Details  string    `json:"details,omitempty"`
	Causes   []string  `json:"causes,omitempty"`
}

// NewEnvelope builds an envelope of the given kind from an error chain.
func NewEnvelope(kind ErrorKind, summary string, err error) *ErrorEnvelope {
	env := &ErrorEnvelope{Kind: kind, Summary: summary}
	for e := err; e != nil; e = errors.Unwrap(e) {
		env.Causes = append(env.Causes, e.Error())
	}
	return env
}

// UserMessage renders short, de-jargonized copy for the envelope in the
// requested locale. Known provider rejections are rewritten into actionable
// instructions; everything else falls back to a generic line so raw
// provider text never leaks to end users.
func (e *ErrorEnvelope) UserMessage(locale string) string {
	if e == nil {
		return ""
	}
	if e.Kind == KindProvider {
		lowered := strings.ToLower(e.Summary + " " + e.Details)
		if strings.Contains(lowered, "motion") || strings.Contains(lowered, "duration") || strings.Contains(lowered, "too short") {
			return msg(locale,
				"Record at least 3 seconds with continuous movement, then try again.",
				"Graba al menos 3 segundos con movimiento continuo e inténtalo de nuevo.")
		}
		if strings.Contains(lowered, "face") {
			return msg(locale,
				"We couldn't find a clear face in your recording. Face the camera and try again.",
				"No encontramos una cara clara en tu grabación. Mira a la cámara e inténtalo de nuevo.")
		}
		return msg(locale,
			"Video generation failed. Please try again.",
			"La generación del video falló. Inténtalo de nuevo.")
	}
	switch e.Kind {
	case KindValidation:
		return msg(locale,
			"Your submission was missing a recording or a character image.",
			"A tu envío le faltaba una grabación o una imagen de personaje.")
	case KindCancelled:
		return msg(locale, "Cancelled.", "Cancelado.")
	default:
		return msg(locale,
			"Something went wrong on our side. Please try again.",
			"Algo salió mal de nuestro lado. Inténtalo de nuevo.")
	}
}

func msg(locale, en, es string) string {
	if locale == "es" {
		return es
	}
	return en
}

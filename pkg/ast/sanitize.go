package ast

// SanitizationState records what is statically known about whether a call's
// result is safe to write without escaping.
type SanitizationState uint8

const (
	SanitizationUnset SanitizationState = iota
	SanitizedString
	Sanitized
	Unknown
	Unsanitized
	NotOutputted
	OutputtedImmediately
)

func (s SanitizationState) String() string {
	switch s {
	case SanitizedString:
		return "SANITIZED_STRING"
	case Sanitized:
		return "SANITIZED"
	case Unknown:
		return "UNKNOWN"
	case Unsanitized:
		return "UNSANITIZED"
	case NotOutputted:
		return "NOT_OUTPUTTED"
	case OutputtedImmediately:
		return "OUTPUTTED_IMMEDIATELY"
	}
	return "UNSET"
}

// IsSanitized reports whether no escaping filter is required.
func (s SanitizationState) IsSanitized() bool {
	return s == SanitizedString || s == Sanitized
}

package errcode

// Code is a stable, component-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK      Code = "ok"
	Timeout Code = "timeout"
	Busy    Code = "busy"

	// Wi-Fi association failures. These map 1:1 onto the radio's
	// link failure reasons so the retry policy can branch on them.
	WifiTimeout Code = "wifi_timeout"
	WifiNoNet   Code = "wifi_no_net"
	WifiBadAuth Code = "wifi_bad_auth"
	WifiGeneral Code = "wifi_general"

	NotConnected   Code = "not_connected"
	ListenerFailed Code = "listener_failed"

	// USB identity outcomes. WrongRevision means the vendor/product
	// matched but the firmware revision did not.
	NoDevice      Code = "no_device"
	WrongDevice   Code = "wrong_device"
	WrongRevision Code = "wrong_revision"
	TransferFail  Code = "transfer_failed"

	// Config store outcomes. Each missing field is distinct so the
	// operator can be told exactly what to fix.
	FSNotMounted  Code = "fs_not_mounted"
	NoSettings    Code = "no_settings"
	NoSSID        Code = "no_ssid"
	NoSecret      Code = "no_secret"
	EmptySSID     Code = "empty_ssid"
	InvalidConfig Code = "invalid_config"

	Error Code = "error" // generic fallback
)

// E keeps context and a cause alongside a Code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return string(e.C) + ": " + e.Msg
	}
	return string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}

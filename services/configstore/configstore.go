// Package configstore loads and persists the wireless credentials kept in
// /settings.toml on the device's flash filesystem. Any load failure routes
// the device into provisioning instead of normal operation: booting with
// garbage credentials would spin forever attempting association.
package configstore

import (
	"io"
	"os"

	"stagebridge/errcode"
)

const (
	// SettingsPath matches the CircuitPython convention so a settings
	// file written by either firmware generation is interchangeable.
	SettingsPath = "/settings.toml"

	keySSID   = "CIRCUITPY_WIFI_SSID"
	keySecret = "CIRCUITPY_WIFI_PASSWORD"

	maxSettingsSize = 1024
)

// placeholder is written when no settings exist. The values are obviously
// fake so a human editing the raw file knows to replace them.
const placeholder = "# StageKit bridge configuration\n" +
	"# Edit these values with your WiFi credentials\n" +
	"\n" +
	keySSID + " = \"YOUR_NETWORK_NAME\"\n" +
	keySecret + " = \"YOUR_NETWORK_PASSWORD\"\n"

// Credentials is the persisted wireless identity. Loaded once at boot and
// immutable for the life of a connection attempt.
type Credentials struct {
	SSID   string
	Secret string
	Valid  bool
}

// File is the subset of a filesystem file the store needs.
type File interface {
	io.ReadWriteCloser
}

// Filesystem is the block-filesystem boundary. The rp2 platform backs it
// with littlefs over on-chip flash; tests use an in-memory fake.
type Filesystem interface {
	Mount() error
	Format() error
	OpenFile(name string, flags int) (File, error)
}

// Mount mounts fs, formatting it first when the filesystem is structurally
// absent. Formatting is destructive and only expected on first boot.
func Mount(fs Filesystem) error {
	if err := fs.Mount(); err == nil {
		return nil
	}
	println("[config] no filesystem, formatting")
	if err := fs.Format(); err != nil {
		return &errcode.E{C: errcode.FSNotMounted, Op: "format", Err: err}
	}
	if err := fs.Mount(); err != nil {
		return &errcode.E{C: errcode.FSNotMounted, Op: "mount", Err: err}
	}
	return nil
}

// Load reads and validates the persisted credentials. The error codes are
// distinct per failure (no file, missing SSID, missing secret, empty SSID)
// so the operator can be told exactly what to fix.
func Load(fs Filesystem) (Credentials, error) {
	f, err := fs.OpenFile(SettingsPath, os.O_RDONLY)
	if err != nil {
		return Credentials{}, &errcode.E{C: errcode.NoSettings, Op: "open", Err: err}
	}
	buf := make([]byte, maxSettingsSize)
	n, err := io.ReadFull(f, buf)
	f.Close()
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Credentials{}, &errcode.E{C: errcode.InvalidConfig, Op: "read", Err: err}
	}
	content := string(buf[:n])

	ssid, ok := ExtractQuoted(content, keySSID)
	if !ok {
		return Credentials{}, errcode.NoSSID
	}
	secret, ok := ExtractQuoted(content, keySecret)
	if !ok {
		return Credentials{}, errcode.NoSecret
	}
	if ssid == "" {
		return Credentials{}, errcode.EmptySSID
	}
	return Credentials{SSID: ssid, Secret: secret, Valid: true}, nil
}

// CreatePlaceholder writes the template settings file.
func CreatePlaceholder(fs Filesystem) error {
	return Save(fs, placeholder)
}

// Save writes raw settings content, replacing any existing file.
func Save(fs Filesystem, content string) error {
	f, err := fs.OpenFile(SettingsPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return &errcode.E{C: errcode.InvalidConfig, Op: "create", Err: err}
	}
	_, werr := f.Write([]byte(content))
	cerr := f.Close()
	if werr != nil {
		return &errcode.E{C: errcode.InvalidConfig, Op: "write", Err: werr}
	}
	return cerr
}

// Render builds a settings file for the given credentials. Quotes and
// backslashes in either field are escaped so the scanner round-trips them.
func Render(creds Credentials) string {
	return "# StageKit bridge configuration\n" +
		keySSID + " = \"" + escape(creds.SSID) + "\"\n" +
		keySecret + " = \"" + escape(creds.Secret) + "\"\n"
}

func escape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

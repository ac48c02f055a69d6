package configstore

import (
	"errors"
	"io"
	"os"
	"testing"

	"stagebridge/errcode"
)

// fakeFS is an in-memory Filesystem in the spirit of the platform host
// fakes. Mount fails until Format when formatted==false.
type fakeFS struct {
	formatted bool
	mounted   bool
	files     map[string][]byte
}

func newFakeFS(formatted bool) *fakeFS {
	return &fakeFS{formatted: formatted, files: map[string][]byte{}}
}

func (f *fakeFS) Mount() error {
	if !f.formatted {
		return errors.New("corrupt superblock")
	}
	f.mounted = true
	return nil
}

func (f *fakeFS) Format() error {
	f.formatted = true
	f.files = map[string][]byte{}
	return nil
}

func (f *fakeFS) OpenFile(name string, flags int) (File, error) {
	if flags&os.O_CREATE != 0 {
		f.files[name] = nil
		return &fakeFile{fs: f, name: name}, nil
	}
	data, ok := f.files[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return &fakeFile{fs: f, name: name, data: data}, nil
}

type fakeFile struct {
	fs   *fakeFS
	name string
	data []byte
	off  int
}

func (f *fakeFile) Read(p []byte) (int, error) {
	if f.off >= len(f.data) {
		return 0, io.EOF
	}
	n := copy(p, f.data[f.off:])
	f.off += n
	return n, nil
}

func (f *fakeFile) Write(p []byte) (int, error) {
	f.data = append(f.data, p...)
	f.fs.files[f.name] = f.data
	return len(p), nil
}

func (f *fakeFile) Close() error { return nil }

func put(fs *fakeFS, content string) {
	fs.files[SettingsPath] = []byte(content)
}

func TestMountFormatsOnFirstBoot(t *testing.T) {
	fs := newFakeFS(false)
	if err := Mount(fs); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if !fs.formatted || !fs.mounted {
		t.Fatal("filesystem not formatted and mounted")
	}
}

func TestLoadValid(t *testing.T) {
	fs := newFakeFS(true)
	put(fs, "CIRCUITPY_WIFI_SSID = \"mynet\"\nCIRCUITPY_WIFI_PASSWORD = \"pw123\"\n")
	creds, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !creds.Valid || creds.SSID != "mynet" || creds.Secret != "pw123" {
		t.Fatalf("creds = %+v", creds)
	}
}

func TestLoadMissingFile(t *testing.T) {
	fs := newFakeFS(true)
	_, err := Load(fs)
	if errcode.Of(err) != errcode.NoSettings {
		t.Fatalf("err = %v, want no_settings", err)
	}
}

func TestLoadDistinguishesMissingFields(t *testing.T) {
	fs := newFakeFS(true)
	put(fs, "CIRCUITPY_WIFI_PASSWORD = \"pw\"\n")
	if _, err := Load(fs); errcode.Of(err) != errcode.NoSSID {
		t.Fatalf("missing SSID: err = %v, want no_ssid", err)
	}

	put(fs, "CIRCUITPY_WIFI_SSID = \"mynet\"\n")
	if _, err := Load(fs); errcode.Of(err) != errcode.NoSecret {
		t.Fatalf("missing secret: err = %v, want no_secret", err)
	}
}

func TestLoadEmptySSID(t *testing.T) {
	fs := newFakeFS(true)
	put(fs, "CIRCUITPY_WIFI_SSID = \"\"\nCIRCUITPY_WIFI_PASSWORD = \"pw\"\n")
	if _, err := Load(fs); errcode.Of(err) != errcode.EmptySSID {
		t.Fatalf("err = %v, want empty_ssid", err)
	}
}

func TestCreatePlaceholderThenLoad(t *testing.T) {
	fs := newFakeFS(true)
	if err := CreatePlaceholder(fs); err != nil {
		t.Fatalf("CreatePlaceholder: %v", err)
	}
	creds, err := Load(fs)
	if err != nil {
		t.Fatalf("Load after placeholder: %v", err)
	}
	// The template must parse but scream "replace me".
	if creds.SSID != "YOUR_NETWORK_NAME" {
		t.Fatalf("placeholder SSID = %q", creds.SSID)
	}
}

func TestSaveRenderLoadRoundTrip(t *testing.T) {
	fs := newFakeFS(true)
	want := Credentials{SSID: `Cafe "Blue"`, Secret: `s\3cr3t`, Valid: true}
	if err := Save(fs, Render(want)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != want {
		t.Fatalf("round trip = %+v, want %+v", got, want)
	}
}

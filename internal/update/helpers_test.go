package update

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/moonblokz/moonprobe/internal/blockdev"
	"github.com/moonblokz/moonprobe/internal/clock"
	"github.com/moonblokz/moonprobe/internal/store"
)

var t0 = time.Date(2026, 4, 2, 3, 0, 0, 0, time.UTC)

func hex32(v uint32) string { return fmt.Sprintf("%08x", v) }

// firmwareServer serves version.json and artifacts from a map of path to
// body. Requests are counted per path.
type firmwareServer struct {
	*httptest.Server
	mu    sync.Mutex
	files map[string]string
	hits  map[string]int
}

func newFirmwareServer(t *testing.T) *firmwareServer {
	t.Helper()
	fs := &firmwareServer{files: map[string]string{}, hits: map[string]int{}}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		fs.hits[r.URL.Path]++
		body, ok := fs.files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *firmwareServer) publish(a Artifact, version uint32, data string, checksum string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if checksum == "" {
		checksum = hex32(crc32.ChecksumIEEE([]byte(data)))
	}
	fs.files["/version.json"] = fmt.Sprintf(`{"version": %d, "crc32": %q}`, version, checksum)
	fs.files["/"+a.FileName(version)] = data
}

func (fs *firmwareServer) count(path string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.hits[path]
}

type recordingInstaller struct {
	mu       sync.Mutex
	versions []uint32
	err      error
}

func (r *recordingInstaller) Install(_ context.Context, v uint32, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions = append(r.versions, v)
	return r.err
}

func (r *recordingInstaller) installed() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint32(nil), r.versions...)
}

type memHistory struct {
	mu      sync.Mutex
	records []store.UpdateRecord
}

func (h *memHistory) AddUpdate(r store.UpdateRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *memHistory) all() []store.UpdateRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]store.UpdateRecord(nil), h.records...)
}

// events records the order of hardware operations across fakes.
type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, fmt.Sprintf(format, args...))
}

func (e *events) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

type fakeSender struct {
	ev  *events
	err error
}

func (s *fakeSender) Send(_ context.Context, text string) error {
	s.ev.add("send %s", text)
	return s.err
}

// fakeProber reports the device once appearAfter probes have happened.
type fakeProber struct {
	ev          *events
	mu          sync.Mutex
	probes      int
	appearAfter int
	device      blockdev.Device
}

func (p *fakeProber) Removable(context.Context) ([]blockdev.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes++
	if p.appearAfter >= 0 && p.probes > p.appearAfter {
		return []blockdev.Device{{Path: "/dev/sdz", Label: "OTHER", Removable: true}, p.device}, nil
	}
	return nil, nil
}

type fakeMounter struct {
	ev         *events
	mountErr   error
	unmountErr error
}

func (m *fakeMounter) Mount(_ context.Context, device, target string) error {
	m.ev.add("mount %s", device)
	return m.mountErr
}

func (m *fakeMounter) Unmount(_ context.Context, target string) error {
	m.ev.add("unmount")
	return m.unmountErr
}

type fakeSyncer struct{ ev *events }

func (s fakeSyncer) Sync(context.Context) error {
	s.ev.add("sync")
	return nil
}

type fakeRebooter struct{ ev *events }

func (r fakeRebooter) Reboot(context.Context) error {
	r.ev.add("reboot")
	return nil
}

// flakyRebooter fails until failures reboots have been attempted.
type flakyRebooter struct {
	ev       *events
	mu       sync.Mutex
	failures int
}

func (r *flakyRebooter) Reboot(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		r.ev.add("reboot failed")
		return errors.New("reboot: permission denied")
	}
	r.ev.add("reboot")
	return nil
}

// drive advances clk through every wait until done yields.
func drive(t *testing.T, clk *clock.FakeClock, done <-chan error) error {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case err := <-done:
			return err
		case <-deadline:
			t.Fatal("operation did not finish")
		default:
		}
		if p := clk.Pending(); len(p) > 0 {
			clk.Advance(p[0])
			continue
		}
		time.Sleep(time.Millisecond)
	}
}

func hasPrefix(list []string, prefix string) bool {
	for _, s := range list {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

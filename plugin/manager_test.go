package plugin

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/df-mc/dragonfly/server/event"
	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/google/uuid"
)

type testServices struct{ label string }

type testHost struct{}

func (testHost) Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
func (testHost) Nether() *world.World                         { return nil }
func (testHost) Player(uuid.UUID) (*world.EntityHandle, bool) { return nil, false }

func newTestManager(t *testing.T) *Manager[testServices] {
	t.Helper()
	return NewManager[testServices](testHost{}, Config{DataDirectory: t.TempDir()}, testServices{label: "shared"})
}

type closingFeature struct {
	name   string
	closed chan struct{}
	err    error
}

func newClosingFeature(name string) *closingFeature {
	return &closingFeature{name: name, closed: make(chan struct{})}
}

func (f *closingFeature) Name() string { return f.name }

func (f *closingFeature) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return f.err
}

func featureFactory(f *closingFeature, setup func(api *API[testServices])) Factory[testServices] {
	return func(api *API[testServices]) (Feature, error) {
		if setup != nil {
			setup(api)
		}
		return f, nil
	}
}

type chatHandler struct {
	player.NopHandler
	calls  *int
	cancel bool
	panics bool
}

func (h chatHandler) HandleChat(ctx *player.Context, _ *string) {
	*h.calls++
	if h.panics {
		panic("boom")
	}
	if h.cancel {
		ctx.Cancel()
	}
}

func TestSanitizeFeatureDirectory(t *testing.T) {
	cases := map[string]string{
		"":                  "feature",
		"   ":               "feature",
		"Lava Generator":    "lava-generator",
		"Hopper_Limit":      "hopper_limit",
		"Boss.Wraith":       "boss.wraith",
		"Piglin@Barter#":    "piglin-barter",
		"--Already-Safe--":  "already-safe",
		"    dots...here  ": "dots...here",
	}
	for input, want := range cases {
		if got := sanitizeFeatureDirectory(input); got != want {
			t.Fatalf("sanitizeFeatureDirectory(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestManagerEnableDisable(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	calls := 0
	f := newClosingFeature("generator")
	var services testServices
	info, err := m.Enable("generator", featureFactory(f, func(api *API[testServices]) {
		services = api.Services()
		api.Events().OnPlayer(chatHandler{calls: &calls})
	}))
	if err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	if services.label != "shared" {
		t.Fatalf("API services = %+v, want shared services", services)
	}
	if want := filepath.Join(m.DataRoot(), "generator"); info.Data != want {
		t.Fatalf("Enable() data = %q, want %q", info.Data, want)
	}
	if _, err := os.Stat(info.Data); err != nil {
		t.Fatalf("data directory missing: %v", err)
	}
	if _, ok := m.Feature("GENERATOR"); !ok {
		t.Fatalf("Feature() did not match case-insensitively")
	}

	msg := "hi"
	m.PlayerHandler().HandleChat(event.C[*player.Player](nil), &msg)
	if calls != 1 {
		t.Fatalf("handler called %d times, want 1", calls)
	}

	if _, err := m.Disable("generator"); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}
	select {
	case <-f.closed:
	default:
		t.Fatalf("feature was not closed")
	}
	m.PlayerHandler().HandleChat(event.C[*player.Player](nil), &msg)
	if calls != 1 {
		t.Fatalf("handler still registered after disable")
	}
	if _, err := m.Disable("generator"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Disable() error = %v, want ErrNotFound", err)
	}
}

func TestManagerEnableDuplicate(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	if _, err := m.Enable("hopper", featureFactory(newClosingFeature("hopper"), nil)); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	if _, err := m.Enable("Hopper", featureFactory(newClosingFeature("hopper"), nil)); !errors.Is(err, ErrAlreadyLoaded) {
		t.Fatalf("Enable() duplicate error = %v, want ErrAlreadyLoaded", err)
	}
	if _, err := m.Enable("nil", nil); !errors.Is(err, ErrNilFactory) {
		t.Fatalf("Enable(nil) error = %v, want ErrNilFactory", err)
	}
}

func TestManagerReportedNameConflict(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	if _, err := m.Enable("portal", featureFactory(newClosingFeature("portal"), nil)); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	dup := newClosingFeature("portal")
	if _, err := m.Enable("portal-linking", featureFactory(dup, nil)); !errors.Is(err, ErrNameConflict) {
		t.Fatalf("Enable() error = %v, want ErrNameConflict", err)
	}
	select {
	case <-dup.closed:
	default:
		t.Fatalf("conflicting feature was not closed")
	}
}

func TestManagerReportedNameRenamesHandlers(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	calls := 0
	f := newClosingFeature("Barter")
	if _, err := m.Enable("barter-tmp", featureFactory(f, func(api *API[testServices]) {
		api.Events().OnPlayer(chatHandler{calls: &calls})
	})); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	infos := m.Infos()
	if len(infos) != 1 || infos[0].Name != "Barter" {
		t.Fatalf("Infos() = %+v, want single Barter feature", infos)
	}
	if want := filepath.Join(m.DataRoot(), "barter"); infos[0].Data != want {
		t.Fatalf("data directory = %q, want %q", infos[0].Data, want)
	}
	if _, err := m.Disable("barter"); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}
	msg := ""
	m.PlayerHandler().HandleChat(event.C[*player.Player](nil), &msg)
	if calls != 0 {
		t.Fatalf("renamed handler survived Disable")
	}
}

func TestManagerFactoryErrorClearsHandlers(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	calls := 0
	_, err := m.Enable("broken", func(api *API[testServices]) (Feature, error) {
		api.Events().OnPlayer(chatHandler{calls: &calls})
		return nil, errors.New("no storage")
	})
	if err == nil {
		t.Fatalf("Enable() succeeded, want error")
	}
	msg := ""
	m.PlayerHandler().HandleChat(event.C[*player.Player](nil), &msg)
	if calls != 0 {
		t.Fatalf("handler of failed feature was invoked")
	}

	if _, err := m.Enable("panicky", func(api *API[testServices]) (Feature, error) {
		panic("bad config")
	}); err == nil {
		t.Fatalf("Enable() with panicking factory succeeded")
	}
}

func TestManagerReload(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	built := 0
	factory := func(api *API[testServices]) (Feature, error) {
		built++
		return newClosingFeature("spawning"), nil
	}
	if _, err := m.Enable("spawning", factory); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	if _, err := m.Reload("SPAWNING"); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if built != 2 {
		t.Fatalf("factory ran %d times, want 2", built)
	}
	if _, err := m.Reload("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Reload(missing) error = %v, want ErrNotFound", err)
	}
}

func TestManagerDisableAll(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	first := newClosingFeature("first")
	second := newClosingFeature("second")
	second.err = errors.New("flush failed")
	for _, f := range []*closingFeature{first, second} {
		if _, err := m.Enable(f.name, featureFactory(f, nil)); err != nil {
			t.Fatalf("Enable(%s) error = %v", f.name, err)
		}
	}

	infos, err := m.DisableAll()
	if err == nil {
		t.Fatalf("DisableAll() error = nil, want close error of second")
	}
	if len(infos) != 2 || infos[0].Name != "second" || infos[1].Name != "first" {
		t.Fatalf("DisableAll() order = %+v", infos)
	}
	if got := m.Infos(); len(got) != 0 {
		t.Fatalf("DisableAll() left %d features enabled", len(got))
	}
}

func TestEventChainStopsWhenCancelled(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	first, second := 0, 0
	if _, err := m.Enable("a", featureFactory(newClosingFeature("a"), func(api *API[testServices]) {
		api.Events().OnPlayer(chatHandler{calls: &first, cancel: true})
	})); err != nil {
		t.Fatalf("Enable(a) error = %v", err)
	}
	if _, err := m.Enable("b", featureFactory(newClosingFeature("b"), func(api *API[testServices]) {
		api.Events().OnPlayer(chatHandler{calls: &second})
	})); err != nil {
		t.Fatalf("Enable(b) error = %v", err)
	}

	msg := ""
	ctx := event.C[*player.Player](nil)
	m.PlayerHandler().HandleChat(ctx, &msg)
	if !ctx.Cancelled() {
		t.Fatalf("context not cancelled")
	}
	if first != 1 || second != 0 {
		t.Fatalf("calls = (%d, %d), want (1, 0)", first, second)
	}
}

func TestManagerHandlePanicDisablesFeature(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	broken := newClosingFeature("broken")
	panics, healthy := 0, 0
	if _, err := m.Enable("broken", featureFactory(broken, func(api *API[testServices]) {
		api.Events().OnPlayer(chatHandler{calls: &panics, panics: true})
	})); err != nil {
		t.Fatalf("Enable(broken) error = %v", err)
	}
	if _, err := m.Enable("healthy", featureFactory(newClosingFeature("healthy"), func(api *API[testServices]) {
		api.Events().OnPlayer(chatHandler{calls: &healthy})
	})); err != nil {
		t.Fatalf("Enable(healthy) error = %v", err)
	}

	msg := ""
	m.PlayerHandler().HandleChat(event.C[*player.Player](nil), &msg)
	if panics != 1 || healthy != 1 {
		t.Fatalf("calls = (%d, %d), want (1, 1)", panics, healthy)
	}

	select {
	case <-broken.closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("feature close was not invoked after panic")
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := m.Feature("broken"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("feature was not removed after panic")
		}
		time.Sleep(10 * time.Millisecond)
	}

	m.PlayerHandler().HandleChat(event.C[*player.Player](nil), &msg)
	if panics != 1 || healthy != 2 {
		t.Fatalf("calls after panic = (%d, %d), want (1, 2)", panics, healthy)
	}
}

func TestAPIResolveDataPath(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	var api *API[testServices]
	if _, err := m.Enable("challenges", featureFactory(newClosingFeature("challenges"), func(a *API[testServices]) {
		api = a
	})); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	for _, bad := range []string{"", "../escape", "/abs/path"} {
		if _, err := api.resolveDataPath(bad); err == nil {
			t.Fatalf("resolveDataPath(%q) succeeded, want error", bad)
		}
	}
	dir, err := api.EnsureDataSubdir("progress")
	if err != nil {
		t.Fatalf("EnsureDataSubdir() error = %v", err)
	}
	if want := filepath.Join(api.DataDirectory(), "progress"); dir != want {
		t.Fatalf("EnsureDataSubdir() = %q, want %q", dir, want)
	}
	f, err := api.OpenDataFile(filepath.Join("nested", "file.txt"), os.O_CREATE|os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("OpenDataFile() error = %v", err)
	}
	_ = f.Close()
}

func TestPresence(t *testing.T) {
	p := newPresence()
	a, b := uuid.New(), uuid.New()
	now := time.Now()
	p.add(PlayerSummary{UUID: b, Name: "b", Joined: now.Add(time.Second)})
	p.add(PlayerSummary{UUID: a, Name: "a", Joined: now})

	if !p.Online(a) || p.Len() != 2 {
		t.Fatalf("presence did not record both players")
	}
	if got := p.Summaries(); got[0].Name != "a" || got[1].Name != "b" {
		t.Fatalf("Summaries() = %+v, want join order", got)
	}
	p.remove(a)
	if p.Online(a) {
		t.Fatalf("player still online after remove")
	}
}

var (
	_ Feature = (*closingFeature)(nil)
	_ Host    = testHost{}
)

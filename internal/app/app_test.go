package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/cuemix/internal/app"
	"github.com/MrWong99/cuemix/internal/config"
	"github.com/MrWong99/cuemix/internal/control"
	"github.com/MrWong99/cuemix/internal/mixer"
	"github.com/MrWong99/cuemix/internal/observe"
	"github.com/MrWong99/cuemix/internal/output/headless"
	"github.com/MrWong99/cuemix/internal/settings"
)

// writeWAV writes a silent 16-bit mono WAV at 8 kHz.
func writeWAV(t *testing.T, path string, d time.Duration) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	const rate = 8000
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           make([]int, int(int64(rate)*int64(d)/int64(time.Second))),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("encode close: %v", err)
	}
}

const catalogYAML = `
clips:
  - name: Hit
    mixer_group: Effects
    preload: true
    assets:
      - path: hit.wav
  - name: Debug
    assets:
      - path: hit.wav
`

type fixture struct {
	dir     string
	cfgPath string
	catPath string
	cfg     *config.Config
	store   *settings.MemStore
	factory *headless.Factory
	level   *slog.LevelVar
	app     *app.App
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// rewrite replaces a watched file and moves its mtime forward so coarse
// filesystem timestamps still register the edit.
func rewrite(t *testing.T, path, content string) {
	t.Helper()
	writeFile(t, path, content)
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
}

func configYAML(dir, level string) string {
	return fmt.Sprintf(`
server:
  listen_addr: "127.0.0.1:0"
  log_level: %s
catalog:
  path: %s
  watch: true
  watch_interval: 20ms
output:
  backend: headless
groups:
  - name: Effects
    default: 0.8
settings:
  backend: memory
telemetry:
  metrics: false
`, level, filepath.Join(dir, "clips.yaml"))
}

func newFixture(t *testing.T, watchConfig bool) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:     dir,
		cfgPath: filepath.Join(dir, "cuemix.yaml"),
		catPath: filepath.Join(dir, "clips.yaml"),
		store:   settings.NewMemStore(nil),
		factory: headless.New(),
		level:   new(slog.LevelVar),
	}
	writeWAV(t, filepath.Join(dir, "hit.wav"), 200*time.Millisecond)
	writeFile(t, f.catPath, catalogYAML)
	writeFile(t, f.cfgPath, configYAML(dir, "info"))

	cfg, err := config.Load(f.cfgPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	f.cfg = cfg

	metrics, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	if err != nil {
		t.Fatal(err)
	}
	opts := []app.Option{
		app.WithLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: f.level}))),
		app.WithLevel(f.level),
		app.WithSettingsStore(f.store),
		app.WithVoiceFactory(f.factory),
		app.WithMetrics(metrics),
	}
	if watchConfig {
		opts = append(opts, app.WithConfigPath(f.cfgPath))
	}
	a, err := app.New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	f.app = a
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return f
}

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, r))
	return rec
}

func TestNew_ServesControlAPI(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	h := f.app.Handler()

	if rec := serve(t, h, "GET", "/readyz", ""); rec.Code != http.StatusOK {
		t.Fatalf("readyz = %d: %s", rec.Code, rec.Body)
	}

	tests := []struct {
		clip string
		want int64
	}{
		{"Hit", 200},
		{"NoSuchClip", 200}, // falls back to Debug
	}
	for _, tc := range tests {
		rec := serve(t, h, "POST", "/v1/play", fmt.Sprintf(`{"clip":%q}`, tc.clip))
		if rec.Code != http.StatusOK {
			t.Fatalf("play %s = %d: %s", tc.clip, rec.Code, rec.Body)
		}
		var resp control.PlayResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.DurationMS != tc.want {
			t.Errorf("play %s duration_ms = %d, want %d", tc.clip, resp.DurationMS, tc.want)
		}
	}
	if got := f.app.Engine().Voices(); got != 2 {
		t.Errorf("voices = %d, want 2", got)
	}
}

func TestNew_GroupVolumePersists(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	h := f.app.Handler()

	var groups []mixer.GroupState
	if err := json.NewDecoder(serve(t, h, "GET", "/v1/groups", "").Body).Decode(&groups); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, g := range groups {
		if g.Name == "Effects" {
			found = true
			if g.Level != 0.8 {
				t.Errorf("Effects level = %v, want 0.8", g.Level)
			}
		}
	}
	if !found {
		t.Fatalf("Effects missing from %+v", groups)
	}

	if rec := serve(t, h, "PUT", "/v1/groups/Effects", `{"level":0.3}`); rec.Code != http.StatusOK {
		t.Fatalf("PUT = %d: %s", rec.Code, rec.Body)
	}
	level, ok, err := f.store.Load(context.Background(), "Effects")
	if err != nil || !ok || level != 0.3 {
		t.Errorf("stored level = %v, %v, %v; want 0.3", level, ok, err)
	}

	if rec := serve(t, h, "PUT", "/v1/groups/Nope", `{"level":0.3}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown group = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(cfg *config.Config, dir string)
		want   string
	}{
		{
			name:   "missing catalog",
			mutate: func(cfg *config.Config, dir string) { cfg.Catalog.Path = filepath.Join(dir, "nope.yaml") },
			want:   "app: init catalog",
		},
		{
			name: "bad group tree",
			mutate: func(cfg *config.Config, _ string) {
				cfg.Groups = append(cfg.Groups, config.GroupConfig{Name: "Steps", Parent: "Missing"})
			},
			want: "app: init bus",
		},
		{
			name: "corrupt settings file",
			mutate: func(cfg *config.Config, dir string) {
				path := filepath.Join(dir, "volumes.yaml")
				if err := os.WriteFile(path, []byte("levels: [\n"), 0o644); err != nil {
					panic(err)
				}
				cfg.Settings.Backend = config.SettingsFile
				cfg.Settings.Path = path
			},
			want: "app: init settings",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			writeWAV(t, filepath.Join(dir, "hit.wav"), 50*time.Millisecond)
			writeFile(t, filepath.Join(dir, "clips.yaml"), catalogYAML)
			cfg, err := config.LoadFromReader(strings.NewReader(configYAML(dir, "info")))
			if err != nil {
				t.Fatal(err)
			}
			tc.mutate(cfg, dir)

			_, err = app.New(context.Background(), cfg,
				app.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
				app.WithVoiceFactory(headless.New()),
				app.WithMetrics(observe.DefaultMetrics()),
			)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestRun_ReloadsAndStops(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- f.app.Run(ctx) }()

	actx, acancel := context.WithTimeout(ctx, 5*time.Second)
	defer acancel()
	addr := f.app.Addr(actx)
	if addr == nil {
		t.Fatal("Run did not start listening")
	}
	resp, err := http.Get("http://" + addr.String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}

	rewrite(t, f.catPath, catalogYAML+`  - name: Bell
    assets:
      - path: hit.wav
`)
	rewrite(t, f.cfgPath, configYAML(f.dir, "debug"))

	deadline := time.Now().Add(5 * time.Second)
	for {
		body := serve(t, f.app.Handler(), "GET", "/v1/clips", "").Body.String()
		if strings.Contains(body, `"Bell"`) && f.level.Level() == slog.LevelDebug {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("reload not observed: clips=%s level=%v", body, f.level.Level())
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after cancellation")
	}

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := f.app.Shutdown(sctx); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}
	if rec := serve(t, f.app.Handler(), "GET", "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz after shutdown = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if err := f.app.Shutdown(sctx); err != nil {
		t.Errorf("second Shutdown() = %v", err)
	}
}

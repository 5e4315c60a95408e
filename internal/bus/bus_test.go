package bus_test

import (
	"context"
	"errors"
	"math"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/cuemix/internal/bus"
	"github.com/MrWong99/cuemix/internal/mixer"
	"github.com/MrWong99/cuemix/internal/settings"
	"github.com/MrWong99/cuemix/pkg/sound"
	"github.com/MrWong99/cuemix/pkg/sound/mock"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func newBus(t *testing.T, store settings.Store) *bus.Bus {
	t.Helper()
	b, err := bus.New([]bus.Config{
		{Name: "Effects", Default: 0.8},
		{Name: "Music", Default: 0.6},
		{Name: "Ambience", Parent: "Music", Default: 1},
	}, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestNew_ImplicitRoot(t *testing.T) {
	t.Parallel()

	b := newBus(t, nil)
	if got := b.Names(); !slices.Equal(got, []string{"Master", "Effects", "Music", "Ambience"}) {
		t.Errorf("Names = %v", got)
	}
	h, err := b.ResolveGroup("Ambience")
	if err != nil {
		t.Fatalf("ResolveGroup: %v", err)
	}
	if g := h.(*bus.Group); g.Parent() != "Music" || g.Gain() != 1 {
		t.Errorf("Ambience parent %q gain %v", g.Parent(), g.Gain())
	}
	if _, err := b.ResolveGroup("Voices"); !errors.Is(err, sound.ErrUnknownGroup) {
		t.Errorf("ResolveGroup(Voices) = %v, want ErrUnknownGroup", err)
	}
}

func TestSetGroupLevel_Hierarchy(t *testing.T) {
	t.Parallel()

	b := newBus(t, nil)
	master, _ := b.ResolveGroup("Master")
	music, _ := b.ResolveGroup("Music")
	amb, _ := b.ResolveGroup("Ambience")
	fx, _ := b.ResolveGroup("Effects")

	if err := b.SetGroupLevel(master, -6); err != nil {
		t.Fatalf("SetGroupLevel: %v", err)
	}
	if err := b.SetGroupLevel(music, -20); err != nil {
		t.Fatalf("SetGroupLevel: %v", err)
	}
	half := math.Pow(10, -6.0/20)
	if !near(fx.Gain(), half) {
		t.Errorf("Effects gain = %v, want %v", fx.Gain(), half)
	}
	if !near(amb.Gain(), half*0.1) {
		t.Errorf("Ambience gain = %v, want %v", amb.Gain(), half*0.1)
	}
	if !near(amb.(*bus.Group).Own(), 1) {
		t.Errorf("Ambience own gain changed to %v", amb.(*bus.Group).Own())
	}
}

func TestSetGroupLevel_ForeignHandle(t *testing.T) {
	t.Parallel()

	a := newBus(t, nil)
	other := newBus(t, nil)
	h, _ := other.ResolveGroup("Music")

	tests := []struct {
		name string
		h    sound.RoutingHandle
	}{
		{"other bus", h},
		{"mock handle", mock.NewHandle("Music")},
		{"nil", nil},
	}
	for _, tc := range tests {
		if err := a.SetGroupLevel(tc.h, 0); !errors.Is(err, bus.ErrForeignHandle) {
			t.Errorf("%s: err = %v, want ErrForeignHandle", tc.name, err)
		}
	}
}

func TestPersistedDefault(t *testing.T) {
	t.Parallel()

	store := settings.NewMemStore(map[string]float64{"Music": 0.2})
	b := newBus(t, store)
	ctx := context.Background()

	tests := []struct {
		group string
		want  float64
	}{
		{"Music", 0.2},
		{"Effects", 0.8},
		{"Master", 1},
	}
	for _, tc := range tests {
		got, err := b.GetPersistedDefault(ctx, tc.group)
		if err != nil || got != tc.want {
			t.Errorf("GetPersistedDefault(%s) = %v, %v; want %v", tc.group, got, err, tc.want)
		}
	}

	if err := b.PersistLevel(ctx, "Effects", 0.5); err != nil {
		t.Fatalf("PersistLevel: %v", err)
	}
	if got, _ := b.GetPersistedDefault(ctx, "Effects"); got != 0.5 {
		t.Errorf("after persist = %v, want 0.5", got)
	}
	if err := b.PersistLevel(ctx, "Voices", 0.5); !errors.Is(err, sound.ErrUnknownGroup) {
		t.Errorf("PersistLevel(Voices) = %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfgs    []bus.Config
		wantMsg string
	}{
		{"empty name", []bus.Config{{Default: 1}}, "name is required"},
		{"duplicate", []bus.Config{{Name: "A"}, {Name: "A"}}, "duplicate group \"A\""},
		{"range", []bus.Config{{Name: "A", Default: 1.2}}, "out of range"},
		{"unknown parent", []bus.Config{{Name: "A", Parent: "B"}}, "parent \"B\""},
		{"cycle", []bus.Config{{Name: "A", Parent: "B"}, {Name: "B", Parent: "A"}}, "cycle"},
		{"root parent", []bus.Config{{Name: "Master", Parent: "A"}, {Name: "A"}}, "root group"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := bus.Validate(tc.cfgs)
			if err == nil || !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("Validate = %v, want mention of %q", err, tc.wantMsg)
			}
			if _, err := bus.New(tc.cfgs, nil); err == nil {
				t.Error("New accepted an invalid configuration")
			}
		})
	}
}

func TestRouterOverBus(t *testing.T) {
	t.Parallel()

	store := settings.NewMemStore(map[string]float64{"Music": 0.5})
	b := newBus(t, store)
	r := mixer.NewRouter(b, mixer.Curve{})
	ctx := context.Background()

	if err := r.Init(ctx, b.Names()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	music, _ := b.ResolveGroup("Music")
	want := mixer.Curve{}.Gain(0.5)
	if !near(music.Gain(), want) {
		t.Errorf("Music gain = %v, want %v", music.Gain(), want)
	}

	if err := r.SetGroupVolume(ctx, "Effects", 0.25); err != nil {
		t.Fatalf("SetGroupVolume: %v", err)
	}
	if v, ok, _ := store.Load(ctx, "Effects"); !ok || v != 0.25 {
		t.Errorf("stored Effects = %v, %v", v, ok)
	}
	if err := r.ResetToDefault(ctx); err != nil {
		t.Fatalf("ResetToDefault: %v", err)
	}
	if v, _ := r.GroupVolume("Effects"); v != 0.8 {
		t.Errorf("Effects after reset = %v, want 0.8", v)
	}
}

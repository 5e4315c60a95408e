package mixer_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/cuemix/internal/mixer"
	"github.com/MrWong99/cuemix/pkg/sound"
	"github.com/MrWong99/cuemix/pkg/sound/mock"
)

func TestRouter_InitAppliesDefaults(t *testing.T) {
	t.Parallel()

	svc := mock.NewMixerService("Master", "Music")
	svc.Defaults["Music"] = 0.5
	r := mixer.NewRouter(svc, mixer.Curve{})

	if err := r.Init(context.Background(), []string{"Master", "Music", "Nope"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	groups := r.Groups()
	if len(groups) != 2 {
		t.Fatalf("Groups = %+v, want Master and Music", groups)
	}
	if db, _ := svc.LastLevel("Music"); math.Abs(db-r.Curve().Translate(0.5)) > 1e-9 {
		t.Errorf("Music applied at %v dB, want %v", db, r.Curve().Translate(0.5))
	}
	if db, _ := svc.LastLevel("Master"); math.Abs(db) > 1e-9 {
		t.Errorf("Master applied at %v dB, want 0", db)
	}
}

func TestRouter_ResolveUnknown(t *testing.T) {
	t.Parallel()

	r := mixer.NewRouter(mock.NewMixerService(), mixer.Curve{})
	if _, err := r.Resolve("Ghost"); !errors.Is(err, sound.ErrUnknownGroup) {
		t.Errorf("Resolve = %v, want ErrUnknownGroup", err)
	}
	if _, err := r.GroupVolume("Ghost"); !errors.Is(err, sound.ErrUnknownGroup) {
		t.Errorf("GroupVolume = %v, want ErrUnknownGroup", err)
	}
}

func TestRouter_DefaultReadOnce(t *testing.T) {
	t.Parallel()

	svc := mock.NewMixerService("Effects")
	svc.Defaults["Effects"] = 0.8
	r := mixer.NewRouter(svc, mixer.Curve{})

	if _, err := r.Resolve("Effects"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	svc.Defaults["Effects"] = 0.1
	if _, err := r.Resolve("Effects"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got, _ := r.GroupVolume("Effects"); got != 0.8 {
		t.Errorf("GroupVolume = %v, want cached 0.8", got)
	}
	if svc.CallCountResolveGroup != 1 {
		t.Errorf("ResolveGroup called %d times, want 1", svc.CallCountResolveGroup)
	}
}

func TestRouter_SetGroupVolumeClampsAndPersists(t *testing.T) {
	t.Parallel()

	svc := mock.NewMixerService("Music")
	r := mixer.NewRouter(svc, mixer.Curve{})
	ctx := context.Background()

	if err := r.SetGroupVolume(ctx, "Music", 1.7); err != nil {
		t.Fatalf("SetGroupVolume: %v", err)
	}
	if got, _ := r.GroupVolume("Music"); got != 1 {
		t.Errorf("level = %v, want clamped 1", got)
	}
	if err := r.SetGroupVolume(ctx, "Music", 0.25); err != nil {
		t.Fatalf("SetGroupVolume: %v", err)
	}
	if len(svc.PersistCalls) != 2 || svc.PersistCalls[1] != (mock.PersistCall{Group: "Music", Level: 0.25}) {
		t.Errorf("PersistCalls = %+v", svc.PersistCalls)
	}
	if db, _ := svc.LastLevel("Music"); math.Abs(db-r.Curve().Translate(0.25)) > 1e-9 {
		t.Errorf("applied %v dB, want %v", db, r.Curve().Translate(0.25))
	}
}

func TestRouter_SetGroupVolumeErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("device lost")
	svc := mock.NewMixerService("Music")
	r := mixer.NewRouter(svc, mixer.Curve{})
	if _, err := r.Resolve("Music"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	svc.SetLevelError = boom
	if err := r.SetGroupVolume(context.Background(), "Music", 0.5); !errors.Is(err, boom) {
		t.Errorf("SetGroupVolume = %v, want %v", err, boom)
	}
	if got, _ := r.GroupVolume("Music"); got != 1 {
		t.Errorf("level changed to %v despite failure", got)
	}
	if len(svc.PersistCalls) != 0 {
		t.Error("failed change was persisted")
	}
}

func TestRouter_ResetToDefault(t *testing.T) {
	t.Parallel()

	svc := mock.NewMixerService("Master", "Voice")
	svc.Defaults["Voice"] = 0.6
	r := mixer.NewRouter(svc, mixer.Curve{})
	ctx := context.Background()
	if err := r.Init(ctx, []string{"Master", "Voice"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	_ = r.SetGroupVolume(ctx, "Voice", 0.1)
	_ = r.SetGroupVolume(ctx, "Master", 0.2)

	if err := r.ResetToDefault(ctx); err != nil {
		t.Fatalf("ResetToDefault: %v", err)
	}
	for _, g := range r.Groups() {
		if g.Level != g.Default {
			t.Errorf("%s level = %v, want default %v", g.Name, g.Level, g.Default)
		}
	}
	if db, _ := svc.LastLevel("Voice"); math.Abs(db-r.Curve().Translate(0.6)) > 1e-9 {
		t.Errorf("Voice reset to %v dB, want %v", db, r.Curve().Translate(0.6))
	}
}

func TestRouter_DefaultErrorFallsBackToFull(t *testing.T) {
	t.Parallel()

	svc := mock.NewMixerService("Music")
	svc.DefaultError = errors.New("store offline")
	r := mixer.NewRouter(svc, mixer.Curve{})
	if err := r.Init(context.Background(), []string{"Music"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got, _ := r.GroupVolume("Music"); got != 1 {
		t.Errorf("level = %v, want 1", got)
	}
}

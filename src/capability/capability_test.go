package capability

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeLookPath(available ...string) func(string) (string, error) {
	set := map[string]bool{}
	for _, a := range available {
		set[a] = true
	}
	return func(name string) (string, error) {
		if set[name] {
			return "/usr/bin/" + name, nil
		}
		return "", errors.New("not found")
	}
}

func fakeProbe(versions map[string]string) VersionProbe {
	return func(_ context.Context, name string, _ ...string) (string, error) {
		if v, ok := versions[name]; ok {
			return v, nil
		}
		return "", errors.New("probe failed")
	}
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	base := []Option{
		WithLookPath(fakeLookPath("python3", "node", "git", "npm", "pip3")),
		WithVersionProbe(fakeProbe(map[string]string{
			"python3": "Python 3.12.1",
			"node":    "v20.11.0",
		})),
	}
	return NewService(slog.Default(), append(base, opts...)...)
}

func TestDetectProbesHost(t *testing.T) {
	svc := newTestService(t)

	snap, err := svc.Detect(context.Background(), false)
	require.NoError(t, err)

	assert.True(t, snap.Completed)
	assert.Equal(t, "Python 3.12.1", snap.Runtimes["python"])
	assert.Equal(t, "v20.11.0", snap.Runtimes["node"])
	assert.True(t, snap.GitInstalled)
	assert.False(t, snap.DockerInstalled)
	assert.ElementsMatch(t, []string{"npm", "pip3"}, snap.PackageManagers)
	assert.False(t, snap.DetectedAt.IsZero())
}

func TestDetectUsesFreshCache(t *testing.T) {
	probes := 0
	svc := newTestService(t, WithVersionProbe(func(_ context.Context, name string, _ ...string) (string, error) {
		probes++
		return "v1", nil
	}))

	_, err := svc.Detect(context.Background(), false)
	require.NoError(t, err)
	first := probes

	_, err = svc.Detect(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, first, probes, "fresh snapshot must be served from cache")
}

func TestDetectStaleSnapshotReprobed(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	probes := 0
	svc := newTestService(t,
		WithClock(clock),
		WithTTL(time.Hour),
		WithVersionProbe(func(_ context.Context, name string, _ ...string) (string, error) {
			probes++
			return "v1", nil
		}),
	)

	_, err := svc.Detect(context.Background(), false)
	require.NoError(t, err)
	first := probes

	now = now.Add(61 * time.Minute)

	snap, err := svc.Detect(context.Background(), false)
	require.NoError(t, err)

	assert.Greater(t, probes, first, "stale snapshot must trigger a re-probe")
	assert.Equal(t, now, snap.DetectedAt)
}

func TestDetectForceRefresh(t *testing.T) {
	probes := 0
	svc := newTestService(t, WithVersionProbe(func(_ context.Context, name string, _ ...string) (string, error) {
		probes++
		return "v1", nil
	}))

	_, err := svc.Detect(context.Background(), false)
	require.NoError(t, err)
	first := probes

	_, err = svc.Detect(context.Background(), true)
	require.NoError(t, err)

	assert.Greater(t, probes, first)
}

func TestSnapshotHelpers(t *testing.T) {
	snap := &Snapshot{
		Runtimes:        map[string]string{"python": "3.12"},
		PackageManagers: []string{"npm"},
	}

	assert.True(t, snap.HasRuntime("python"))
	assert.False(t, snap.HasRuntime("go"))
	assert.True(t, snap.HasPackageManager("npm"))
	assert.False(t, snap.HasPackageManager("cargo"))

	var nilSnap *Snapshot
	assert.False(t, nilSnap.HasRuntime("python"))
	assert.True(t, nilSnap.Stale(time.Hour, time.Now()))
}

func TestProbeFailureRecordedAsUnknown(t *testing.T) {
	svc := NewService(slog.Default(),
		WithLookPath(fakeLookPath("python3")),
		WithVersionProbe(fakeProbe(nil)),
	)

	snap, err := svc.Detect(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, "unknown", snap.Runtimes["python"])
}

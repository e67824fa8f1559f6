package model_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"pulse-telemetry/internal/model"
)

func TestDecodeBatchShapes(t *testing.T) {
	wrapped, err := model.DecodeBatch([]byte(`{"items":[{"url":"/a"},{"url":"/b"}]}`), 0)
	require.NoError(t, err)
	require.Len(t, wrapped, 2)

	bare, err := model.DecodeBatch([]byte(`[{"url":"/a"}]`), 0)
	require.NoError(t, err)
	require.Len(t, bare, 1)

	single, err := model.DecodeBatch([]byte(`{"url":"/a"}`), 0)
	require.NoError(t, err)
	require.Len(t, single, 1)
	require.Equal(t, "/a", single[0].URL)
}

func TestDecodeBatchRejectsEmptyAndOversized(t *testing.T) {
	_, err := model.DecodeBatch([]byte(`[]`), 0)
	require.Error(t, err)
	_, err = model.DecodeBatch([]byte(`{"items":[]}`), 0)
	require.Error(t, err)
	_, err = model.DecodeBatch(nil, 0)
	require.Error(t, err)
	_, err = model.DecodeBatch([]byte(`not json`), 0)
	require.Error(t, err)

	_, err = model.DecodeBatch([]byte(`[{"url":"/a"},{"url":"/b"}]`), 1)
	require.Error(t, err)
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "items", verr.Field)
}

func TestValidateBatchRequiredFields(t *testing.T) {
	cases := []struct {
		name    string
		channel model.Channel
		item    model.Item
		field   string
	}{
		{"pageview needs url", model.ChannelPageViews, model.Item{}, "url"},
		{"event needs name", model.ChannelEvents, model.Item{}, "eventName"},
		{"error needs message", model.ChannelErrors, model.Item{}, "message"},
		{"performance needs a vital", model.ChannelPerformance, model.Item{}, "lcp/cls/fid/ttfb"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := model.ValidateBatch(tc.channel, []model.Item{tc.item})
			var verr *model.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestValidateBatchFailsOnFirstBadItem(t *testing.T) {
	items := []model.Item{
		{URL: "/ok"},
		{}, // missing url
		{URL: "/also-ok"},
	}
	err := model.ValidateBatch(model.ChannelPageViews, items)
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, 1, verr.Index)
}

func TestValidateEventDuration(t *testing.T) {
	neg := -1.0
	err := model.ValidateBatch(model.ChannelEvents, []model.Item{{EventName: "x", DurationMs: &neg}})
	require.Error(t, err)

	ok := 120.5
	err = model.ValidateBatch(model.ChannelEvents, []model.Item{{EventName: "x", DurationMs: &ok}})
	require.NoError(t, err)
}

func TestValidateDerivesErrorFingerprint(t *testing.T) {
	items := []model.Item{{Message: "boom", StackTrace: "at main.go:1", Fingerprint: "client-supplied"}}
	require.NoError(t, model.ValidateBatch(model.ChannelErrors, items))
	require.Len(t, items[0].Fingerprint, 64)
	require.Equal(t, model.ErrorFingerprint("boom", "at main.go:1"), items[0].Fingerprint)
}

func TestErrorFingerprintStability(t *testing.T) {
	a := model.ErrorFingerprint("boom", "at main.go:1\nat run.go:2")
	b := model.ErrorFingerprint("boom", "at main.go:1\nat run.go:2")
	require.Equal(t, a, b)

	// changing the first line of the stack changes the fingerprint
	c := model.ErrorFingerprint("boom", "at other.go:9\nat run.go:2")
	require.NotEqual(t, a, c)

	// only the first 100 characters of the stack participate
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'x'
	}
	d := model.ErrorFingerprint("boom", string(long)+"tail-one")
	e := model.ErrorFingerprint("boom", string(long)+"tail-two")
	require.Equal(t, d, e)
}

func TestFieldResolution(t *testing.T) {
	d := 42.0
	it := model.Item{
		EventName:  "x",
		Browser:    "chrome",
		DurationMs: &d,
		Properties: map[string]any{"plan": "free"},
	}

	v, ok := it.Field("browser")
	require.True(t, ok)
	require.Equal(t, "chrome", v)

	v, ok = it.Field("durationMs")
	require.True(t, ok)
	require.Equal(t, 42.0, v)

	v, ok = it.Field("plan")
	require.True(t, ok)
	require.Equal(t, "free", v)

	_, ok = it.Field("missing")
	require.False(t, ok)
}

package extractor

import (
	"encoding/json"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mspro-labs/koredoko/internal/models"
)

func TestParseRecords(t *testing.T) {
	testCases := []struct {
		name         string
		text         string
		want         []models.StoreRecord
		wantDegraded bool
	}{
		{
			name: "array in markdown fence",
			text: "```json\n[{\"store_name\":\"Cafe A\",\"address\":\"1 Main St\"}]\n```",
			want: []models.StoreRecord{{StoreName: "Cafe A", Address: "1 Main St"}},
		},
		{
			name: "multiple stores keep order",
			text: `[{"store_name":"First"},{"store_name":"Second","phone":"03-1234-5678"}]`,
			want: []models.StoreRecord{{StoreName: "First"}, {StoreName: "Second", Phone: "03-1234-5678"}},
		},
		{
			name: "single object is wrapped",
			text: `Here is the result: {"store_name":"Cafe A","hours":"9-17"}`,
			want: []models.StoreRecord{{StoreName: "Cafe A", Hours: "9-17"}},
		},
		{
			name: "error object is wrapped",
			text: `{"error":"image too blurry"}`,
			want: []models.StoreRecord{{Error: "image too blurry"}},
		},
		{
			name: "array of strings falls back to object",
			text: `{"store_name":"Cafe A","tags":["latte","cake"]}`,
			want: []models.StoreRecord{{StoreName: "Cafe A"}},
		},
		{
			name: "empty array",
			text: `[]`,
			want: []models.StoreRecord{},
		},
		{
			name:         "no JSON at all",
			text:         "Sorry, I cannot see any store.",
			want:         []models.StoreRecord{{Error: ParseFailed, RawResponse: "Sorry, I cannot see any store."}},
			wantDegraded: true,
		},
		{
			name:         "broken JSON",
			text:         `[{"store_name": "Cafe A",]`,
			want:         []models.StoreRecord{{Error: ParseFailed, RawResponse: `[{"store_name": "Cafe A",]`}},
			wantDegraded: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, degraded := ParseRecords(tc.text)
			assert.Equal(t, tc.wantDegraded, degraded)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.wantDegraded, IsDegraded(got))
		})
	}
}

func TestParseRecordsAlwaysMarshalsAsArray(t *testing.T) {
	for _, text := range []string{`{"store_name":"x"}`, `[]`, `garbage`} {
		recs, _ := ParseRecords(text)
		body, err := json.Marshal(models.UploadResult{StoreInfo: recs})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(body), `{"store_info":[`), "body %s", body)
	}
}

func TestNormalizeRecords(t *testing.T) {
	recs, degraded := NormalizeRecords(json.RawMessage(`{"store_name":"Cafe A"}`))
	assert.False(t, degraded)
	assert.Equal(t, []models.StoreRecord{{StoreName: "Cafe A"}}, recs)

	recs, degraded = NormalizeRecords(json.RawMessage(`[{"store_name":"A"},{"store_name":"B"}]`))
	assert.False(t, degraded)
	assert.Len(t, recs, 2)

	recs, degraded = NormalizeRecords(json.RawMessage(`"just a string"`))
	assert.True(t, degraded)
	assert.Equal(t, ParseFailed, recs[0].Error)

	for _, raw := range []string{"null", " null\n", ""} {
		recs, degraded = NormalizeRecords(json.RawMessage(raw))
		assert.True(t, degraded, "store_info %q", raw)
		require.Len(t, recs, 1)
		assert.Equal(t, ParseFailed, recs[0].Error)
	}

	recs, degraded = NormalizeRecords(json.RawMessage(`[]`))
	assert.False(t, degraded)
	assert.Empty(t, recs)
}

func TestParseMapURL(t *testing.T) {
	const mapsURL = "https://www.google.com/maps/search/?api=1&query=Cafe+A"

	testCases := []struct {
		name         string
		text         string
		want         models.MapURLResult
		wantDegraded bool
	}{
		{
			name: "fenced json",
			text: "```json\n{\"map_url\":\"" + mapsURL + "\"}\n```",
			want: models.MapURLResult{MapURL: mapsURL},
		},
		{
			name: "model error",
			text: `{"error":"not enough information"}`,
			want: models.MapURLResult{Error: "not enough information"},
		},
		{
			name: "error wins over url",
			text: `{"map_url":"` + mapsURL + `","error":"not sure"}`,
			want: models.MapURLResult{Error: "not sure"},
		},
		{
			name:         "no json",
			text:         "I don't know",
			want:         models.MapURLResult{Error: MapURLFailed, RawResponse: "I don't know"},
			wantDegraded: true,
		},
		{
			name:         "neither field",
			text:         `{"url":"somewhere"}`,
			want:         models.MapURLResult{Error: MapURLFailed, RawResponse: `{"url":"somewhere"}`},
			wantDegraded: true,
		},
		{
			name:         "javascript scheme",
			text:         `{"map_url":"javascript:alert(document.cookie)"}`,
			want:         models.MapURLResult{Error: MapURLFailed, RawResponse: `{"map_url":"javascript:alert(document.cookie)"}`},
			wantDegraded: true,
		},
		{
			name:         "plain http",
			text:         `{"map_url":"http://www.google.com/maps/search/?api=1&query=x"}`,
			want:         models.MapURLResult{Error: MapURLFailed, RawResponse: `{"map_url":"http://www.google.com/maps/search/?api=1&query=x"}`},
			wantDegraded: true,
		},
		{
			name:         "other host",
			text:         `{"map_url":"https://evil.example/maps/search/?q=x"}`,
			want:         models.MapURLResult{Error: MapURLFailed, RawResponse: `{"map_url":"https://evil.example/maps/search/?q=x"}`},
			wantDegraded: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res, degraded := ParseMapURL(tc.text)
			assert.Equal(t, tc.wantDegraded, degraded)
			assert.Equal(t, tc.want, res)
			assert.True(t, (res.MapURL == "") != (res.Error == ""), "exactly one of map_url and error: %+v", res)
		})
	}
}

func TestIsMapsURL(t *testing.T) {
	assert.True(t, IsMapsURL("https://www.google.com/maps/search/?api=1&query=Cafe+A"))
	assert.True(t, IsMapsURL("https://www.google.com/maps/place/Cafe+A"))
	assert.False(t, IsMapsURL("javascript:alert(1)"))
	assert.False(t, IsMapsURL("https://www.google.com.evil.example/maps/"))
	assert.False(t, IsMapsURL("https://attacker@www.google.com/maps/search/"))
	assert.False(t, IsMapsURL("https://www.google.com/search?q=maps"))
	assert.False(t, IsMapsURL("//www.google.com/maps/search/"))
}

func TestBuildMapURL(t *testing.T) {
	u, ok := BuildMapURL(models.StoreRecord{StoreName: "Cafe A", Address: "1 Main St"})
	require.True(t, ok)

	parsed, err := url.Parse(u)
	require.NoError(t, err)
	assert.Equal(t, "www.google.com", parsed.Host)
	assert.Equal(t, "/maps/search/", parsed.Path)
	assert.Equal(t, "1", parsed.Query().Get("api"))
	assert.Equal(t, "Cafe A 1 Main St", parsed.Query().Get("query"))

	u, ok = BuildMapURL(models.StoreRecord{StoreName: "カフェ & Bar", Address: "東京都渋谷区1-2-3"})
	require.True(t, ok)
	parsed, err = url.Parse(u)
	require.NoError(t, err)
	assert.Equal(t, "カフェ & Bar 東京都渋谷区1-2-3", parsed.Query().Get("query"))

	_, ok = BuildMapURL(models.StoreRecord{Phone: "03-0000-0000"})
	assert.False(t, ok)
}

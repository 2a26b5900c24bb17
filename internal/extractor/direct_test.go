package extractor

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/png"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"mspro-labs/koredoko/internal/ai"
	"mspro-labs/koredoko/internal/apperr"
	"mspro-labs/koredoko/internal/config"
	"mspro-labs/koredoko/internal/imaging"
	"mspro-labs/koredoko/internal/models"
)

// fakeModel records calls and replays a canned answer.
type fakeModel struct {
	mu      sync.Mutex
	answer  string
	err     error
	calls   int
	prompts []string
	images  [][]ai.Image
}

func (f *fakeModel) Generate(_ context.Context, prompt string, images ...ai.Image) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	f.images = append(f.images, images)
	return f.answer, f.err
}

func (f *fakeModel) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// memCache is an in-memory MapURLCache.
type memCache struct {
	entries map[string]string
	puts    int
}

func (m *memCache) GetMapURL(_ context.Context, query string) (string, bool, error) {
	u, ok := m.entries[query]
	return u, ok, nil
}

func (m *memCache) PutMapURL(_ context.Context, query, mapURL string) error {
	if m.entries == nil {
		m.entries = map[string]string{}
	}
	m.entries[query] = mapURL
	m.puts++
	return nil
}

var testUpload = Upload{Filename: "shot.png", Image: ai.Image{MIMEType: "image/png", Data: []byte("not decodable, passed through")}}

func TestDirectExtractWrapsSingleObject(t *testing.T) {
	model := &fakeModel{answer: `{"store_name":"Cafe A","address":"1 Main St"}`}
	d := NewDirect(model, zaptest.NewLogger(t))

	recs, err := d.Extract(context.Background(), testUpload)
	require.NoError(t, err)
	assert.Equal(t, []models.StoreRecord{{StoreName: "Cafe A", Address: "1 Main St"}}, recs)

	require.Equal(t, 1, model.Calls())
	assert.Equal(t, ai.ExtractionPrompt, model.prompts[0])
	require.Len(t, model.images[0], 1)
	assert.Equal(t, testUpload.Image, model.images[0][0])
	assert.Contains(t, model.prompts[0], "account name")
}

func TestDirectExtractDegradesOnGarbage(t *testing.T) {
	model := &fakeModel{answer: "no json here"}
	d := NewDirect(model, zaptest.NewLogger(t))

	recs, err := d.Extract(context.Background(), testUpload)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, ParseFailed, recs[0].Error)
	assert.Equal(t, "no json here", recs[0].RawResponse)
}

func TestDirectExtractRejectsEmptyUpload(t *testing.T) {
	model := &fakeModel{answer: "[]"}
	d := NewDirect(model, zaptest.NewLogger(t))

	_, err := d.Extract(context.Background(), Upload{Filename: "empty.png"})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Zero(t, model.Calls())
}

func TestDirectExtractModelFailure(t *testing.T) {
	model := &fakeModel{err: errors.New("quota exceeded")}
	d := NewDirect(model, zaptest.NewLogger(t))

	_, err := d.Extract(context.Background(), testUpload)
	require.Error(t, err)
	assert.True(t, apperr.IsUpstream(err))
}

func TestDirectMapURLShortCircuitsFailedRecord(t *testing.T) {
	model := &fakeModel{answer: `{"map_url":"https://example.com"}`}
	d := NewDirect(model, zaptest.NewLogger(t))

	_, err := d.GenerateMapURL(context.Background(), models.StoreRecord{StoreName: "ignored", Error: "image too blurry"})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Equal(t, "image too blurry", apperr.Message(err, ""))
	assert.Zero(t, model.Calls())
}

func TestDirectMapURLModel(t *testing.T) {
	model := &fakeModel{answer: "```json\n{\"map_url\": \"https://www.google.com/maps/search/?api=1&query=Cafe%20A%201%20Main%20St\"}\n```"}
	d := NewDirect(model, zaptest.NewLogger(t))

	res, err := d.GenerateMapURL(context.Background(), models.StoreRecord{StoreName: "Cafe A", Address: "1 Main St"})
	require.NoError(t, err)
	require.Equal(t, 1, model.Calls())
	assert.Contains(t, model.prompts[0], "Cafe A")
	assert.Contains(t, model.prompts[0], "1 Main St")

	u, err := url.Parse(res.MapURL)
	require.NoError(t, err)
	assert.Equal(t, "Cafe A 1 Main St", u.Query().Get("query"))
}

func TestDirectMapURLMissingFieldsBecomeEmpty(t *testing.T) {
	model := &fakeModel{answer: `{"error":"not enough information"}`}
	d := NewDirect(model, zaptest.NewLogger(t))

	res, err := d.GenerateMapURL(context.Background(), models.StoreRecord{})
	require.NoError(t, err)
	assert.Equal(t, "not enough information", res.Error)
	assert.Contains(t, model.prompts[0], "Store name: \n")
	assert.Contains(t, model.prompts[0], "Address: \n")
}

func TestDirectMapURLDegraded(t *testing.T) {
	model := &fakeModel{answer: "Here is your link: maps.google.com"}
	d := NewDirect(model, zaptest.NewLogger(t))

	res, err := d.GenerateMapURL(context.Background(), models.StoreRecord{StoreName: "Cafe A"})
	require.NoError(t, err)
	assert.Equal(t, MapURLFailed, res.Error)
	assert.Equal(t, "Here is your link: maps.google.com", res.RawResponse)
	assert.Empty(t, res.MapURL)
}

func TestDirectMapURLLocalMode(t *testing.T) {
	model := &fakeModel{}
	d := NewDirect(model, zaptest.NewLogger(t), WithMapURLMode(config.MapURLLocal))

	res, err := d.GenerateMapURL(context.Background(), models.StoreRecord{StoreName: "Cafe A", Address: "1 Main St"})
	require.NoError(t, err)
	assert.Zero(t, model.Calls())
	assert.True(t, strings.HasPrefix(res.MapURL, mapsSearchBase))
	assert.Equal(t, mapsSearchBase+"Cafe+A+1+Main+St", res.MapURL)

	res, err = d.GenerateMapURL(context.Background(), models.StoreRecord{Phone: "000"})
	require.NoError(t, err)
	assert.Equal(t, InsufficientInfo, res.Error)
}

func TestDirectMapURLCache(t *testing.T) {
	model := &fakeModel{answer: `{"map_url":"https://www.google.com/maps/search/?api=1&query=Cafe+A"}`}
	cache := &memCache{}
	d := NewDirect(model, zaptest.NewLogger(t), WithMapURLCache(cache))
	rec := models.StoreRecord{StoreName: "Cafe A"}

	first, err := d.GenerateMapURL(context.Background(), rec)
	require.NoError(t, err)
	second, err := d.GenerateMapURL(context.Background(), rec)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, model.Calls())
	assert.Equal(t, 1, cache.puts)
}

func TestDirectMapURLCacheSkipsErrors(t *testing.T) {
	model := &fakeModel{answer: `{"error":"not enough information"}`}
	cache := &memCache{}
	d := NewDirect(model, zaptest.NewLogger(t), WithMapURLCache(cache))

	_, err := d.GenerateMapURL(context.Background(), models.StoreRecord{StoreName: "?"})
	require.NoError(t, err)
	assert.Zero(t, cache.puts)
}

func TestDirectMapURLRejectsNonMapsLink(t *testing.T) {
	model := &fakeModel{answer: `{"map_url":"javascript:alert(document.cookie)"}`}
	cache := &memCache{}
	d := NewDirect(model, zaptest.NewLogger(t), WithMapURLCache(cache))

	res, err := d.GenerateMapURL(context.Background(), models.StoreRecord{StoreName: "Cafe A"})
	require.NoError(t, err)
	assert.Empty(t, res.MapURL)
	assert.Equal(t, MapURLFailed, res.Error)
	assert.Zero(t, cache.puts)
}

func TestDirectMapURLIgnoresBadCacheEntry(t *testing.T) {
	model := &fakeModel{answer: `{"map_url":"https://www.google.com/maps/search/?api=1&query=Cafe+A"}`}
	cache := &memCache{entries: map[string]string{"Cafe A": "javascript:alert(1)"}}
	d := NewDirect(model, zaptest.NewLogger(t), WithMapURLCache(cache))

	res, err := d.GenerateMapURL(context.Background(), models.StoreRecord{StoreName: "Cafe A"})
	require.NoError(t, err)
	assert.Equal(t, "https://www.google.com/maps/search/?api=1&query=Cafe+A", res.MapURL)
	assert.Equal(t, 1, model.Calls())
}

func TestDirectExtractRejectsOversizedImage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 1, 1))))
	data := buf.Bytes()
	binary.BigEndian.PutUint32(data[16:20], 30000)
	binary.BigEndian.PutUint32(data[20:24], 30000)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))

	model := &fakeModel{answer: "[]"}
	d := NewDirect(model, zaptest.NewLogger(t), WithImageOptions(imaging.Options{MaxDimension: 1600}))

	_, err := d.Extract(context.Background(), Upload{Filename: "bomb.png", Image: ai.Image{MIMEType: "image/png", Data: data}})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Zero(t, model.Calls())
}

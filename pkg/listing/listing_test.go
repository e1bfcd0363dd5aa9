package listing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dredge/pkg/config"
	"dredge/pkg/fetch"
	"dredge/pkg/logger"
	"dredge/pkg/models"
)

const listingPage = `<html><body>
<h1>Evidence files</h1>
<table>
<tr><td><a href="/files/IMG_0001.jpg">IMG_0001.jpg</a></td></tr>
<tr><td><a href="/files/IMG_0002.JPG">IMG_0002.JPG</a></td></tr>
<tr><td><a href="https://cdn.example.gov/files/clip.png#frag">clip.png</a></td></tr>
<tr><td><a href="/files/report.pdf">report.pdf</a></td></tr>
<tr><td><a href="/files/IMG_0001.jpg">duplicate link</a></td></tr>
<tr><td><a href="mailto:tips@example.gov">contact</a></td></tr>
</table>
<img src="/thumbs/preview.gif">
</body></html>`

func TestExtractLinks(t *testing.T) {
	links, err := ExtractLinks([]byte(listingPage), "https://files.example.gov/listing",
		[]string{".jpg", ".png", ".gif"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://files.example.gov/files/IMG_0001.jpg",
		"https://files.example.gov/files/IMG_0002.JPG",
		"https://cdn.example.gov/files/clip.png",
		"https://files.example.gov/thumbs/preview.gif",
	}, links)
}

func TestExtractLinksExtensionFilter(t *testing.T) {
	links, err := ExtractLinks([]byte(listingPage), "https://files.example.gov/listing",
		[]string{".pdf"})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://files.example.gov/files/report.pdf"}, links)
}

func TestExtractLinksEmptyDocument(t *testing.T) {
	links, err := ExtractLinks([]byte("<html><body></body></html>"),
		"https://files.example.gov/listing", []string{".jpg"})
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestSourceDiscover(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(listingPage))
	}))
	defer server.Close()

	client := fetch.NewClient(fetch.Options{MaxRetries: 1}, nil, logger.NewNopLogger())
	source := NewSource(config.ListingConfig{
		URL:             server.URL + "/listing",
		MediaExtensions: []string{".jpg", ".png", ".gif"},
		ResourceKey:     "listing",
	}, client, logger.NewNopLogger())

	records, err := source.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 4)

	first := records[0]
	assert.Equal(t, models.DeriveID(first.SourceURL), first.ID)
	assert.Equal(t, "IMG_0001.jpg", first.Filename)
	assert.False(t, first.DiscoveredAt.IsZero())

	// The same listing discovered twice yields the same ids.
	again, err := source.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, again, 4)
	for i := range records {
		assert.Equal(t, records[i].ID, again[i].ID)
	}
}

package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/lehigh-university-libraries/shelfscan/internal/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractText(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	var captured map[string]any
	httpmock.RegisterResponder(http.MethodPost, "http://ollama.test:11434/api/generate", func(req *http.Request) (*http.Response, error) {
		require.NoError(t, json.NewDecoder(req.Body).Decode(&captured))
		return httpmock.NewJsonResponse(http.StatusOK, map[string]any{"response": `{"books":[{"title":"Dune"}]}`})
	})

	client := New("http://ollama.test:11434/")
	text, err := client.ExtractText(context.Background(), providers.Config{
		Model:       "llava",
		Prompt:      "list the books",
		Temperature: 0.1,
		Images:      []providers.Image{{Data: []byte("png"), MIMEType: "image/png"}},
		JSON:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"books":[{"title":"Dune"}]}`, text)

	assert.Equal(t, "llava", captured["model"])
	assert.Equal(t, false, captured["stream"])
	assert.Equal(t, "json", captured["format"])
	assert.Equal(t, []any{base64.StdEncoding.EncodeToString([]byte("png"))}, captured["images"])
}

func TestExtractTextStatusError(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	httpmock.RegisterResponder(http.MethodPost, "http://localhost:11434/api/generate",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "loading model"))

	_, err := New("").ExtractText(context.Background(), providers.Config{Model: "llava"})
	var se *providers.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, "loading model", se.Body)
}

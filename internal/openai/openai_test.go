package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/lehigh-university-libraries/shelfscan/internal/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testURL = "https://openai.test/v1/chat/completions"

func TestExtractTextSendsImagesAndJSONMode(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	var captured map[string]any
	httpmock.RegisterResponder(http.MethodPost, testURL, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(req.Body).Decode(&captured))
		return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": `{"books":[]}`}}},
		})
	})

	client := New("sk-test", "https://openai.test/v1/")
	text, err := client.ExtractText(context.Background(), providers.Config{
		Model:  "gpt-4o",
		Prompt: "list the books",
		Images: []providers.Image{{Data: []byte("jpeg-bytes"), MIMEType: "image/jpeg"}},
		JSON:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"books":[]}`, text)

	assert.Equal(t, "gpt-4o", captured["model"])
	assert.Equal(t, map[string]any{"type": "json_object"}, captured["response_format"])

	messages := captured["messages"].([]any)
	content := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	image := content[1].(map[string]any)["image_url"].(map[string]any)
	assert.True(t, strings.HasPrefix(image["url"].(string), "data:image/jpeg;base64,"))
}

func TestExtractTextPlainPrompt(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	httpmock.RegisterResponder(http.MethodPost, testURL, func(req *http.Request) (*http.Response, error) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		messages := body["messages"].([]any)
		assert.Equal(t, "hello", messages[0].(map[string]any)["content"])
		_, hasFormat := body["response_format"]
		assert.False(t, hasFormat)
		return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "hi"}}},
		})
	})

	text, err := New("sk-test", "https://openai.test/v1").ExtractText(context.Background(), providers.Config{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hi", text)
}

func TestExtractTextErrors(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	t.Run("missing key", func(t *testing.T) {
		_, err := New("", "").ExtractText(context.Background(), providers.Config{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "OPENAI_API_KEY")
	})

	t.Run("status error", func(t *testing.T) {
		httpmock.RegisterResponder(http.MethodPost, testURL, httpmock.NewStringResponder(http.StatusTooManyRequests, "slow down"))

		_, err := New("sk-test", "https://openai.test/v1").ExtractText(context.Background(), providers.Config{})
		var se *providers.StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusTooManyRequests, se.Code)
		assert.True(t, providers.IsTransient(err))
	})

	t.Run("no choices", func(t *testing.T) {
		httpmock.RegisterResponder(http.MethodPost, testURL, httpmock.NewStringResponder(http.StatusOK, `{"choices":[]}`))

		_, err := New("sk-test", "https://openai.test/v1").ExtractText(context.Background(), providers.Config{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no choices")
	})
}

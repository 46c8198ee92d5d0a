package engine

import (
	"testing"

	"github.com/germanamz/netpilot/pkg/providers/company"
	"github.com/germanamz/netpilot/pkg/providers/gemini"
	"github.com/germanamz/netpilot/pkg/providers/openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCompleter_OpenAI(t *testing.T) {
	temp := 0.2
	c, err := buildCompleter(ProviderConfig{Kind: "openai", APIKey: "k", Model: "gpt-4o", MaxTokens: 512, Temperature: &temp})
	require.NoError(t, err)

	a, ok := c.(*openai.Adapter)
	require.True(t, ok)
	assert.Equal(t, openai.DefaultBaseURL, a.BaseURL)
	assert.Equal(t, "gpt-4o", a.Name)
	assert.Equal(t, 512, a.MaxTokens)
	assert.InDelta(t, 0.2, a.Temperature, 1e-9)
}

func TestBuildCompleter_Gemini(t *testing.T) {
	c, err := buildCompleter(ProviderConfig{Kind: "gemini", APIKey: "k", Model: "gemini-2.0-flash"})
	require.NoError(t, err)

	a, ok := c.(*gemini.Adapter)
	require.True(t, ok)
	assert.Equal(t, gemini.DefaultBaseURL, a.BaseURL)
	assert.Equal(t, "gemini-2.0-flash", a.Name)
}

func TestBuildCompleter_GeminiNeedsModel(t *testing.T) {
	_, err := buildCompleter(ProviderConfig{Kind: "gemini"})
	assert.ErrorContains(t, err, "model is required")
}

func TestBuildCompleter_Company(t *testing.T) {
	c, err := buildCompleter(ProviderConfig{Kind: "company", BaseURL: "https://llm.example.com/complete/", APIKey: "k"})
	require.NoError(t, err)

	a, ok := c.(*company.Adapter)
	require.True(t, ok)
	assert.Equal(t, "https://llm.example.com/complete", a.BaseURL)
	assert.Equal(t, 1000, a.MaxTokens)
	assert.InDelta(t, 0.7, a.Temperature, 1e-9)
}

func TestBuildCompleter_CompanyNeedsURL(t *testing.T) {
	_, err := buildCompleter(ProviderConfig{Kind: "company"})
	assert.ErrorContains(t, err, "base_url is required")
}

func TestBuildCompleter_UnknownKind(t *testing.T) {
	_, err := buildCompleter(ProviderConfig{Kind: "anthropic"})
	assert.ErrorContains(t, err, `unknown provider kind "anthropic"`)
}

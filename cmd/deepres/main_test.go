package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jordangeorgiev/open-deep-research/internal/config"
	"github.com/jordangeorgiev/open-deep-research/internal/credstore"
)

func TestBuildAdapterFailsWithoutAnyProviderCredentials(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")

	creds := credstore.New(false, nil)
	_, err := buildAdapter(config.DefaultConfig(), creds)
	require.Error(t, err)
}

func TestBuildAdapterSucceedsWithOneProviderCredential(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ANTHROPIC_API_KEY", "")

	creds := credstore.New(false, nil)
	adapter, err := buildAdapter(config.DefaultConfig(), creds)
	require.NoError(t, err)
	require.NotNil(t, adapter)
}

func TestBuildSearchProviderReturnsNilWhenSearchAPIUnset(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SearchAPI = "none"
	creds := credstore.New(false, nil)

	provider, err := buildSearchProvider(cfg, creds)
	require.NoError(t, err)
	require.Nil(t, provider)
}

func TestBuildSearchProviderReturnsNilWhenTavilyKeyMissing(t *testing.T) {
	t.Setenv("TAVILY_API_KEY", "")
	cfg := config.DefaultConfig()
	cfg.SearchAPI = "tavily"
	creds := credstore.New(false, nil)

	provider, err := buildSearchProvider(cfg, creds)
	require.NoError(t, err)
	require.Nil(t, provider)
}

func TestBuildSearchProviderBuildsSearxngFromURL(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SearchAPI = "searxng"
	cfg.SearxngURL = "http://localhost:8080"
	creds := credstore.New(false, nil)

	provider, err := buildSearchProvider(cfg, creds)
	require.NoError(t, err)
	require.NotNil(t, provider)
}
